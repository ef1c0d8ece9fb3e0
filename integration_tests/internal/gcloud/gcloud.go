package gcloud

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
)

// Table is the subset of `bq show` output the tests inspect
type Table struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	NumRows string `json:"numRows"`
}

// Rows returns the row count, or 0 for views
func (t *Table) Rows() int64 {
	n, _ := strconv.ParseInt(t.NumRows, 10, 64)
	return n
}

// Client shells out to the gcloud and bq CLIs so tests verify results
// independently of the code under test
type Client struct {
	projectID string
}

func NewClient(projectID string) *Client {
	return &Client{
		projectID: projectID,
	}
}

// Upload copies a local file to gs://bucket/object
func (c *Client) Upload(ctx context.Context, localPath, bucket, object string) error {
	cmd := exec.CommandContext(ctx, "gcloud", "storage", "cp",
		localPath,
		fmt.Sprintf("gs://%s/%s", bucket, object),
		"--project", c.projectID)

	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to upload %s: %w: %s", localPath, err, output)
	}
	return nil
}

// DeleteObject removes gs://bucket/object
func (c *Client) DeleteObject(ctx context.Context, bucket, object string) error {
	cmd := exec.CommandContext(ctx, "gcloud", "storage", "rm",
		fmt.Sprintf("gs://%s/%s", bucket, object),
		"--project", c.projectID)

	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to delete object: %w: %s", err, output)
	}
	return nil
}

// CreateDataset creates a dataset in location, succeeding if it exists
func (c *Client) CreateDataset(ctx context.Context, dataset, location string) error {
	cmd := exec.CommandContext(ctx, "bq", "mk",
		"--force",
		"--dataset",
		"--location", location,
		fmt.Sprintf("%s:%s", c.projectID, dataset))

	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to create dataset %s: %w: %s", dataset, err, output)
	}
	return nil
}

// DeleteDataset removes a dataset and everything in it
func (c *Client) DeleteDataset(ctx context.Context, dataset string) error {
	cmd := exec.CommandContext(ctx, "bq", "rm",
		"--recursive", "--force", "--dataset",
		fmt.Sprintf("%s:%s", c.projectID, dataset))

	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to delete dataset %s: %w: %s", dataset, err, output)
	}
	return nil
}

// GetTable describes a table or view
func (c *Client) GetTable(ctx context.Context, dataset, table string) (*Table, error) {
	cmd := exec.CommandContext(ctx, "bq", "show",
		"--format", "json",
		fmt.Sprintf("%s:%s.%s", c.projectID, dataset, table))

	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to get table: %w", err)
	}

	var t Table
	if err := json.Unmarshal(output, &t); err != nil {
		return nil, fmt.Errorf("failed to parse table data: %w", err)
	}

	return &t, nil
}
