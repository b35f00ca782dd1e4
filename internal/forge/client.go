// Package forge implements the consumed subset of the source-forge REST
// API: commit signatures, file presence, user identity lookup, and the
// clone/push-results git flow. No GitLab client library exists in the
// reference pack this was grounded on, so the REST surface is a small
// hand-rolled net/http client in the same shape as githubops-style
// helpers elsewhere in the fleet: one function per forge operation,
// typed request/response structs, wrapped errors.
package forge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Settings are the admin-token credentials used to talk to the forge.
type Settings struct {
	URL      string
	Token    string
	Username string
	Password string
}

// Client is a thin REST client over the forge's project/commit/user API.
type Client struct {
	settings Settings
	http     *http.Client
}

// New builds a forge Client.
func New(settings Settings) *Client {
	return &Client{
		settings: settings,
		http:     &http.Client{Timeout: 15 * time.Second},
	}
}

// Signature is the subset of commit signature metadata consumed by
// admission.
type Signature struct {
	VerificationStatus string `json:"verification_status"`
}

// ErrNotFound is returned when the forge reports 404 for a project,
// commit, or file lookup.
var ErrNotFound = fmt.Errorf("forge: not found")

// GetSignature fetches commit signature metadata for a commit.
func (c *Client) GetSignature(ctx context.Context, projectID, commitID string) (*Signature, error) {
	path := fmt.Sprintf("/api/v4/projects/%s/repository/commits/%s/signature", url.PathEscape(projectID), url.PathEscape(commitID))
	var sig Signature
	if err := c.getJSON(ctx, path, &sig); err != nil {
		return nil, err
	}
	return &sig, nil
}

// HasFileInRepo reports whether file_path exists in the project at ref.
func (c *Client) HasFileInRepo(ctx context.Context, projectID, filePath, ref string) (bool, error) {
	path := fmt.Sprintf("/api/v4/projects/%s/repository/files/%s?ref=%s",
		url.PathEscape(projectID), url.PathEscape(filePath), url.QueryEscape(ref))
	req, err := c.newRequest(ctx, http.MethodHead, path)
	if err != nil {
		return false, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("forge: checking file %s: %w", filePath, err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("forge: unexpected status %d checking file %s", resp.StatusCode, filePath)
	}
}

// identity mirrors the subset of a forge user's linked-identity list
// consumed to resolve the IdP subject.
type identity struct {
	Provider   string `json:"provider"`
	ExternUID  string `json:"extern_uid"`
}

type forgeUser struct {
	ID         int64      `json:"id"`
	Identities []identity `json:"identities"`
}

// GetIDPUserID resolves a forge user to their external identity-provider
// subject, using the first linked identity as the primary IdP.
func (c *Client) GetIDPUserID(ctx context.Context, forgeUserID int64) (string, bool, error) {
	path := fmt.Sprintf("/api/v4/users/%d", forgeUserID)
	var u forgeUser
	if err := c.getJSON(ctx, path, &u); err != nil {
		if err == ErrNotFound {
			return "", false, nil
		}
		return "", false, err
	}
	if len(u.Identities) == 0 {
		return "", false, nil
	}
	if u.Identities[0].ExternUID == "" {
		return "", false, nil
	}
	return u.Identities[0].ExternUID, true, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.settings.URL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("PRIVATE-TOKEN", c.settings.Token)
	return req, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("forge: request to %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("forge: %s returned status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("forge: decoding response from %s: %w", path, err)
	}
	return nil
}

// ProjectIDString converts an integer project ID as carried in the
// webhook payload into the string form the REST path expects.
func ProjectIDString(id int64) string { return strconv.FormatInt(id, 10) }
