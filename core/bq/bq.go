package bq

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"

	"maxprint.app/orderflow/core/config"
)

// Client wraps a bigquery.Client bound to one project/dataset and the table
// names the pipeline uses. It is the entry point for all storage operations.
type Client struct {
	bq  *bigquery.Client
	cfg config.BigQueryConfig
}

func New(ctx context.Context, cfg config.BigQueryConfig) (*Client, error) {
	bqc, err := bigquery.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating bigquery client: %w", err)
	}
	return &Client{bq: bqc, cfg: cfg}, nil
}

func (c *Client) Close() error {
	return c.bq.Close()
}

func (c *Client) Config() config.BigQueryConfig {
	return c.cfg
}

// Table returns a table handle within the bound dataset.
func (c *Client) Table(name string) *bigquery.Table {
	return c.bq.Dataset(c.cfg.DatasetID).Table(name)
}

// TableRef returns the fully qualified `project.dataset.table` reference for
// use inside SQL statements.
func (c *Client) TableRef(name string) string {
	return fmt.Sprintf("%s.%s.%s", c.cfg.ProjectID, c.cfg.DatasetID, name)
}

// Query builds a parameterized query.
func (c *Client) Query(sql string, params []bigquery.QueryParameter) *bigquery.Query {
	q := c.bq.Query(sql)
	q.Parameters = params
	return q
}

// Exec runs a DML statement and waits for completion.
func (c *Client) Exec(ctx context.Context, sql string, params []bigquery.QueryParameter) error {
	q := c.Query(sql, params)
	job, err := q.Run(ctx)
	if err != nil {
		return err
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return err
	}
	return status.Err()
}
