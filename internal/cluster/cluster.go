// Package cluster drives namespace, persistent-volume, and pod
// lifecycle for runs against a Kubernetes cluster.
package cluster

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/kthcloud/secd/internal/run"
)

// Settings configures the cluster connection and the NFS server
// backing output and cache volumes.
type Settings struct {
	KubeconfigPath string
	NFSServer      string
}

// Driver is the cluster-facing half of run provisioning and reaping.
type Driver struct {
	clientset *kubernetes.Clientset
	settings  Settings
}

// New builds a Driver, preferring in-cluster config and falling back
// to a kubeconfig file when run outside the cluster.
func New(settings Settings) (*Driver, error) {
	cfg, err := rest.InClusterConfig()
	if err != nil {
		path := settings.KubeconfigPath
		if path == "" {
			home, _ := os.UserHomeDir()
			if home != "" {
				path = filepath.Join(home, ".kube", "config")
			}
		}
		cfg, err = clientcmd.BuildConfigFromFlags("", path)
		if err != nil {
			return nil, fmt.Errorf("cluster: loading kubeconfig: %w", err)
		}
	}
	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("cluster: building clientset: %w", err)
	}
	return &Driver{clientset: clientset, settings: settings}, nil
}

const (
	managedNamespacePrefix = "secd-"
	outputVolumeKind       = "output"
	cacheVolumeKind        = "cache"
	storageClassName       = "nfs"
)

// CreateNamespace creates the managed namespace for a run, annotated
// with its owner and deadline.
func (d *Driver) CreateNamespace(ctx context.Context, r run.Run) error {
	ns := &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{
			Name: r.Namespace(),
			Annotations: map[string]string{
				run.AnnotationUserID:   r.UserID,
				run.AnnotationRunUntil: r.Deadline.UTC().Format(time.RFC3339),
			},
		},
	}
	_, err := d.clientset.CoreV1().Namespaces().Create(ctx, ns, metav1.CreateOptions{})
	if err != nil {
		return fmt.Errorf("cluster: creating namespace %s: %w", ns.Name, err)
	}
	return nil
}

// CreateOutputVolume provisions the NFS-backed output PV and claim for
// a run: 50Gi, ReadWriteOnce, Retain.
func (d *Driver) CreateOutputVolume(ctx context.Context, r run.Run, nfsPath string) error {
	return d.createVolume(ctx, r, outputVolumeKind, nfsPath)
}

// CreateCacheVolume provisions an optional per-user cache volume when
// the run's metadata requests one.
func (d *Driver) CreateCacheVolume(ctx context.Context, r run.Run, nfsPath string) error {
	return d.createVolume(ctx, r, cacheVolumeKind, nfsPath)
}

func (d *Driver) createVolume(ctx context.Context, r run.Run, kind, nfsPath string) error {
	pvName := run.PVName(r.ID, kind)
	pvcName := run.PVCName(r.ID, kind)
	capacity := resource.MustParse("50Gi")
	reclaim := corev1.PersistentVolumeReclaimRetain

	pv := &corev1.PersistentVolume{
		ObjectMeta: metav1.ObjectMeta{Name: pvName},
		Spec: corev1.PersistentVolumeSpec{
			Capacity:                      corev1.ResourceList{corev1.ResourceStorage: capacity},
			AccessModes:                   []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
			PersistentVolumeReclaimPolicy: reclaim,
			StorageClassName:              storageClassName,
			VolumeMode:                    volumeModeFilesystem(),
			PersistentVolumeSource: corev1.PersistentVolumeSource{
				NFS: &corev1.NFSVolumeSource{
					Server: d.settings.NFSServer,
					Path:   nfsPath,
				},
			},
		},
	}
	if _, err := d.clientset.CoreV1().PersistentVolumes().Create(ctx, pv, metav1.CreateOptions{}); err != nil {
		return fmt.Errorf("cluster: creating pv %s: %w", pvName, err)
	}

	storageClass := storageClassName
	pvc := &corev1.PersistentVolumeClaim{
		ObjectMeta: metav1.ObjectMeta{Name: pvcName, Namespace: r.Namespace()},
		Spec: corev1.PersistentVolumeClaimSpec{
			AccessModes:      []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
			Resources:        corev1.VolumeResourceRequirements{Requests: corev1.ResourceList{corev1.ResourceStorage: capacity}},
			VolumeName:       pvName,
			StorageClassName: &storageClass,
		},
	}
	if _, err := d.clientset.CoreV1().PersistentVolumeClaims(r.Namespace()).Create(ctx, pvc, metav1.CreateOptions{}); err != nil {
		return fmt.Errorf("cluster: creating pvc %s: %w", pvcName, err)
	}
	return nil
}

func volumeModeFilesystem() *corev1.PersistentVolumeMode {
	m := corev1.PersistentVolumeFilesystem
	return &m
}

const gpuResourceName = corev1.ResourceName("nvidia.com/gpu")

// CreatePod launches the run's workload pod: image = the run's image
// reference, optional GPU resource requests, output mount, optional
// cache mount, restart policy Never.
func (d *Driver) CreatePod(ctx context.Context, r run.Run, imageRef string, env map[string]string) error {
	volumeMounts := []corev1.VolumeMount{{Name: outputVolumeKind, MountPath: "/output"}}
	volumes := []corev1.Volume{{
		Name: outputVolumeKind,
		VolumeSource: corev1.VolumeSource{
			PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{
				ClaimName: run.PVCName(r.ID, outputVolumeKind),
			},
		},
	}}
	if r.Cache != nil {
		volumeMounts = append(volumeMounts, corev1.VolumeMount{Name: cacheVolumeKind, MountPath: r.Cache.MountPath})
		volumes = append(volumes, corev1.Volume{
			Name: cacheVolumeKind,
			VolumeSource: corev1.VolumeSource{
				PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{
					ClaimName: run.PVCName(r.ID, cacheVolumeKind),
				},
			},
		})
	}

	var envVars []corev1.EnvVar
	for k, v := range env {
		envVars = append(envVars, corev1.EnvVar{Name: k, Value: v})
	}

	resources := corev1.ResourceRequirements{}
	labels := map[string]string{}
	if r.GPU {
		labels["gpu"] = "true"
		gpuQty := resource.MustParse("1")
		resources.Limits = corev1.ResourceList{gpuResourceName: gpuQty}
		resources.Requests = corev1.ResourceList{gpuResourceName: gpuQty}
	}

	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      run.PodName(r.ID),
			Namespace: r.Namespace(),
			Labels:    labels,
		},
		Spec: corev1.PodSpec{
			RestartPolicy: corev1.RestartPolicyNever,
			Containers: []corev1.Container{{
				Name:         "run",
				Image:        imageRef,
				Env:          envVars,
				VolumeMounts: volumeMounts,
				Resources:    resources,
			}},
			Volumes: volumes,
		},
	}
	if _, err := d.clientset.CoreV1().Pods(r.Namespace()).Create(ctx, pod, metav1.CreateOptions{}); err != nil {
		return fmt.Errorf("cluster: creating pod %s: %w", pod.Name, err)
	}
	return nil
}

// managedNamespaces lists every namespace this driver owns.
func (d *Driver) managedNamespaces(ctx context.Context) ([]corev1.Namespace, error) {
	list, err := d.clientset.CoreV1().Namespaces().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("cluster: listing namespaces: %w", err)
	}
	var managed []corev1.Namespace
	for _, ns := range list.Items {
		if IsManaged(ns) {
			managed = append(managed, ns)
		}
	}
	return managed, nil
}

// IsManaged reports whether a namespace is one this driver owns: its
// name carries the secd- prefix and it has both lifecycle annotations.
func IsManaged(ns corev1.Namespace) bool {
	if !strings.HasPrefix(ns.Name, managedNamespacePrefix) {
		return false
	}
	if _, ok := ns.Annotations[run.AnnotationUserID]; !ok {
		return false
	}
	if _, ok := ns.Annotations[run.AnnotationRunUntil]; !ok {
		return false
	}
	return true
}

// DeleteByUser deletes every managed namespace (and its output PV)
// owned by userID, returning the affected run IDs. Not called by the
// default launch path; available for a future cancel-previous-runs
// policy.
func (d *Driver) DeleteByUser(ctx context.Context, userID string) ([]run.ID, error) {
	managed, err := d.managedNamespaces(ctx)
	if err != nil {
		return nil, err
	}
	var affected []run.ID
	for _, ns := range managed {
		if ns.Annotations[run.AnnotationUserID] != userID {
			continue
		}
		id, ok := run.IDFromNamespace(ns.Name)
		if !ok {
			continue
		}
		if err := d.terminate(ctx, ns.Name, id); err != nil {
			return affected, err
		}
		affected = append(affected, id)
	}
	return affected, nil
}

// ListTerminal scans every managed namespace and terminates those that
// are expired or whose single pod has completed, returning the
// affected run IDs.
func (d *Driver) ListTerminal(ctx context.Context) ([]run.ID, error) {
	managed, err := d.managedNamespaces(ctx)
	if err != nil {
		return nil, err
	}
	var terminal []run.ID
	for _, ns := range managed {
		id, ok := run.IDFromNamespace(ns.Name)
		if !ok {
			continue
		}
		isTerminal, err := d.isTerminal(ctx, ns)
		if err != nil {
			continue
		}
		if !isTerminal {
			continue
		}
		if err := d.terminate(ctx, ns.Name, id); err != nil {
			continue
		}
		terminal = append(terminal, id)
	}
	return terminal, nil
}

func (d *Driver) isTerminal(ctx context.Context, ns corev1.Namespace) (bool, error) {
	deadline, err := time.Parse(time.RFC3339, ns.Annotations[run.AnnotationRunUntil])
	if err == nil && time.Now().After(deadline) {
		return true, nil
	}
	pods, err := d.clientset.CoreV1().Pods(ns.Name).List(ctx, metav1.ListOptions{})
	if err != nil {
		return false, err
	}
	if len(pods.Items) == 0 {
		return false, nil
	}
	return pods.Items[0].Status.Phase == corev1.PodSucceeded, nil
}

func (d *Driver) terminate(ctx context.Context, namespaceName string, id run.ID) error {
	if err := d.clientset.CoreV1().Namespaces().Delete(ctx, namespaceName, metav1.DeleteOptions{}); err != nil {
		return fmt.Errorf("cluster: deleting namespace %s: %w", namespaceName, err)
	}
	_ = d.clientset.CoreV1().PersistentVolumes().Delete(ctx, run.PVName(id, outputVolumeKind), metav1.DeleteOptions{})
	return nil
}
