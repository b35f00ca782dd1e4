package credentials

import (
	"context"
	"testing"
)

func TestTargetSchemaIsBuildTest(t *testing.T) {
	if targetSchema != "build_test" {
		t.Fatalf("targetSchema = %q, want build_test", targetSchema)
	}
}

func TestDeletePrincipalEmptyUserIsNoop(t *testing.T) {
	b := &Broker{}
	if err := b.DeletePrincipal(context.Background(), ""); err != nil {
		t.Fatalf("DeletePrincipal(\"\") = %v, want nil", err)
	}
}
