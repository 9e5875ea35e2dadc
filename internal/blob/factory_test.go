package blob

import (
	"context"
	"strings"
	"testing"
)

func TestOpenDrivers(t *testing.T) {
	ctx := context.Background()
	mem, err := Open(ctx, Config{Driver: DriverMemory})
	if err != nil || mem.Driver() != DriverMemory {
		t.Fatalf("memory: %v", err)
	}
	fs, err := Open(ctx, Config{FSRoot: t.TempDir()})
	if err != nil || fs.Driver() != DriverFilesystem {
		t.Fatalf("default driver should be fs: %v", err)
	}
	if _, err := Open(ctx, Config{Driver: DriverS3}); err == nil {
		t.Fatalf("s3 without bucket should fail")
	}
	if _, err := Open(ctx, Config{Driver: "ftp"}); err == nil || !strings.Contains(err.Error(), "ftp") {
		t.Fatalf("unknown driver should be named in the error: %v", err)
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("CASEGRID_BLOB_DRIVER", "s3")
	t.Setenv("CASEGRID_BLOB_S3_BUCKET", "artifacts")
	t.Setenv("CASEGRID_BLOB_S3_PATH_STYLE", "TRUE")
	t.Setenv("CASEGRID_BLOB_S3_PREFIX", "epi")
	cfg := ConfigFromEnv()
	if cfg.Driver != DriverS3 || cfg.S3.Bucket != "artifacts" || !cfg.S3.PathStyle || cfg.S3.Prefix != "epi" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}
