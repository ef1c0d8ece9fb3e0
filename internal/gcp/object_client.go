package gcp

import (
	"context"
	"errors"
	"net/http"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/storage/v1"

	pipelineErrors "github.com/maxkimambo/bqflow/internal/errors"
	"github.com/maxkimambo/bqflow/internal/logger"
)

// ObjectClientInterface answers whether an object exists in a bucket
type ObjectClientInterface interface {
	// ObjectExists returns false without error when the object is absent
	ObjectExists(ctx context.Context, bucket, object string) (bool, error)
}

type ObjectClient struct {
	service *storage.Service
}

func NewObjectClient(service *storage.Service) *ObjectClient {
	return &ObjectClient{service: service}
}

func (oc *ObjectClient) ObjectExists(ctx context.Context, bucket, object string) (bool, error) {
	logFields := map[string]interface{}{
		"bucket": bucket,
		"object": object,
	}

	obj, err := oc.service.Objects.Get(bucket, object).Fields("name", "size", "updated").Context(ctx).Do()
	if err != nil {
		if isNotFound(err) {
			logger.Op.WithFields(logFields).Debug("Object not present yet")
			return false, nil
		}
		apiErr := pipelineErrors.NewCloudAPIError("Cloud Storage object lookup", err).
			WithContext("bucket", bucket).
			WithContext("object", object)
		logger.Op.WithFields(logFields).WithError(err).Error(apiErr.Message)
		return false, apiErr
	}

	logFields["size"] = obj.Size
	logFields["updated"] = obj.Updated
	logger.Op.WithFields(logFields).Debug("Object found")
	return true, nil
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}
