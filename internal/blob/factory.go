package blob

import (
	"context"
	"fmt"
	"os"
	"strings"

	"casegrid/internal/infra/blob/fs"
	"casegrid/internal/infra/blob/memory"
	"casegrid/internal/infra/blob/s3"
)

// S3Config configures the S3 driver.
type S3Config = s3.Config

// Config selects and configures an artifact store.
type Config struct {
	Driver Driver
	FSRoot string
	S3     S3Config
}

// ConfigFromEnv reads the artifact store selection from the environment.
//
//	CASEGRID_BLOB_DRIVER: fs|s3|memory (default fs)
//	CASEGRID_BLOB_FS_ROOT: directory root when driver=fs (default ./artifacts)
//	CASEGRID_BLOB_S3_BUCKET, CASEGRID_BLOB_S3_REGION, CASEGRID_BLOB_S3_ENDPOINT,
//	CASEGRID_BLOB_S3_PATH_STYLE, CASEGRID_BLOB_S3_PREFIX
func ConfigFromEnv() Config {
	return Config{
		Driver: Driver(os.Getenv("CASEGRID_BLOB_DRIVER")),
		FSRoot: os.Getenv("CASEGRID_BLOB_FS_ROOT"),
		S3: S3Config{
			Bucket:    os.Getenv("CASEGRID_BLOB_S3_BUCKET"),
			Region:    os.Getenv("CASEGRID_BLOB_S3_REGION"),
			Endpoint:  os.Getenv("CASEGRID_BLOB_S3_ENDPOINT"),
			Prefix:    os.Getenv("CASEGRID_BLOB_S3_PREFIX"),
			PathStyle: strings.EqualFold(os.Getenv("CASEGRID_BLOB_S3_PATH_STYLE"), "true"),
		},
	}
}

// Open constructs the store named by cfg.
func Open(ctx context.Context, cfg Config) (Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverFilesystem:
		return fs.New(cfg.FSRoot)
	case DriverS3:
		return s3.New(ctx, cfg.S3)
	case DriverMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}
