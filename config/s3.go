package config

import (
	"sync"
)

var (
	s3Once   sync.Once
	s3Config *S3Config
)

type S3Config struct {
	BucketName string
	Region     string
	Endpoint   string
	AccessKey  string
	SecretKey  string
}

func GetS3Config() *S3Config {
	s3Once.Do(func() {
		loadDotEnv()

		s3Config = &S3Config{}
		envString("AWS_S3_BUCKET_NAME", &s3Config.BucketName)
		envString("AWS_REGION", &s3Config.Region)
		envString("AWS_ENDPOINT", &s3Config.Endpoint)
		envString("AWS_ACCESS_KEY", &s3Config.AccessKey)
		envString("AWS_SECRET_KEY", &s3Config.SecretKey)
	})
	return s3Config
}
