package audit

import (
	"context"
	"io"
)

type SinkType string

const (
	SinkTypeNone    SinkType = ""
	SinkTypeLocalFS SinkType = "localfs"
	SinkTypeS3      SinkType = "s3"
)

// Uploader stores one object per path.
type Uploader interface {
	Upload(ctx context.Context, path string, data io.Reader) error
}

type Config struct {
	Type    SinkType      `mapstructure:"type"`
	Prefix  string        `mapstructure:"prefix"`
	LocalFS LocalFSConfig `mapstructure:"localfs"`
	S3      S3Config      `mapstructure:"s3"`
}

type LocalFSConfig struct {
	BasePath string `mapstructure:"base_path"`
}

type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKey       string `mapstructure:"access_key"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	SessionToken    string `mapstructure:"session_token"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
}
