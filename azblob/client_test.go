package azblob

import (
	"errors"
	"fmt"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
)

func TestErrorCode_ExtractsFromWrappedResponseError(t *testing.T) {
	respErr := &azcore.ResponseError{ErrorCode: "BlobNotFound"}
	wrapped := fmt.Errorf("download failed: %w", respErr)

	if code := ErrorCode(wrapped); code != "BlobNotFound" {
		t.Fatalf("expected BlobNotFound, got %q", code)
	}
}

func TestErrorCode_EmptyForUnrelatedError(t *testing.T) {
	if code := ErrorCode(errors.New("boom")); code != "" {
		t.Fatalf("expected empty code for unrelated error, got %q", code)
	}
}

func TestErrorCode_EmptyForNil(t *testing.T) {
	if code := ErrorCode(nil); code != "" {
		t.Fatalf("expected empty code for nil error, got %q", code)
	}
}
