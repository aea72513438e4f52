package stores

import (
	"os"
	"quicksign-server/core"
	"quicksign-server/stores/aws"
	"quicksign-server/stores/filesystem"
	"quicksign-server/stores/memory"
	"quicksign-server/stores/sqlite"

	"github.com/sirupsen/logrus"
)

// GetStore builds the signed-artifact archive selected by STORAGE_TYPE.
func GetStore() core.ArtifactStore {
	storageType := os.Getenv("STORAGE_TYPE")
	var store core.ArtifactStore

	storageField := logrus.Fields{
		"storageType": storageType,
	}

	switch storageType {
	case "filesystem":
		basePath := os.Getenv("LOCAL_STORAGE_PATH")
		if basePath == "" {
			basePath = "./data"
		}
		storageField["basePath"] = basePath
		store = filesystem.NewArtifactStore(basePath)
	case "sqlite":
		dataSourceName := os.Getenv("DATA_SOURCE_NAME")
		if dataSourceName == "" {
			dataSourceName = "quicksign.db"
		}
		storageField["dataSourceName"] = dataSourceName
		store = sqlite.NewArtifactStore(dataSourceName)
	case "s3":
		bucketName := os.Getenv("S3_BUCKET_NAME")
		if bucketName == "" {
			logrus.Fatal("S3_BUCKET_NAME environment variable must be set for s3 storage type")
		}
		storageField["bucketName"] = bucketName
		store = aws.NewArtifactStore(bucketName)
	default:
		store = memory.NewArtifactStore()
		storageField["storageType"] = "in-memory"
	}
	logrus.WithFields(storageField).Info("Use artifact storage")
	return store
}
