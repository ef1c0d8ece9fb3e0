package gcp

import (
	"context"
	"fmt"

	"google.golang.org/api/bigquery/v2"
	"google.golang.org/api/option"
	"google.golang.org/api/storage/v1"

	"github.com/maxkimambo/bqflow/internal/logger"
)

// Clients bundles the collaborators the operators call
type Clients struct {
	Objects   ObjectClientInterface
	Warehouse WarehouseClientInterface
}

// NewClients creates Cloud Storage and BigQuery clients using application
// default credentials unless opts say otherwise. Jobs run in project and are
// polled in location.
func NewClients(ctx context.Context, project, location string, opts ...option.ClientOption) (*Clients, error) {
	logger.Op.Debug("Initializing Cloud Storage and BigQuery API clients...")

	opts = append(getDefaultClientOptions(), opts...)

	storageService, err := storage.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Cloud Storage client: %w", err)
	}
	logger.Op.Debug("Cloud Storage client initialized.")

	bigqueryService, err := bigquery.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create BigQuery client: %w", err)
	}
	logger.Op.Debug("BigQuery client initialized.")

	logger.Op.WithFields(map[string]interface{}{
		"project":  project,
		"location": location,
	}).Info("Successfully initialized GCP API clients.")

	return &Clients{
		Objects:   NewObjectClient(storageService),
		Warehouse: NewWarehouseClient(bigqueryService, project, location),
	}, nil
}

func getDefaultClientOptions() []option.ClientOption {
	return []option.ClientOption{
		option.WithUserAgent("bqflow"),
	}
}
