package database

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"

	"leadwire/internal/models"
	"leadwire/pkg/provider/types"
)

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (d *Database) scanInstance(row rowScanner) (*models.ChannelInstance, error) {
	var (
		inst               models.ChannelInstance
		provider, status   string
		apiKey             string
		created, updatedAt int64
	)
	if err := row.Scan(&inst.ID, &inst.Name, &inst.TenantID, &provider, &apiKey, &status,
		&inst.PhoneNumber, &created, &updatedAt); err != nil {
		return nil, err
	}

	key, err := d.encryptor.Decrypt(apiKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt api key: %w", err)
	}
	inst.APIKey = key
	inst.Provider = types.Variant(provider)
	inst.Status = types.ConnectionStatus(status)
	inst.CreatedAt = fromMillis(created)
	inst.UpdatedAt = fromMillis(updatedAt)
	return &inst, nil
}

// CreateInstance stores a new channel instance, assigning an id when empty.
func (d *Database) CreateInstance(ctx context.Context, inst *models.ChannelInstance) error {
	if inst.ID == "" {
		inst.ID = newID()
	}
	if inst.Status == "" {
		inst.Status = types.StatusDisconnected
	}
	now := d.now().UTC()
	inst.CreatedAt, inst.UpdatedAt = now, now

	key, err := d.encryptor.Encrypt(inst.APIKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt api key: %w", err)
	}

	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, InsertInstanceQuery,
			inst.ID, inst.Name, inst.TenantID, string(inst.Provider), key, string(inst.Status),
			inst.PhoneNumber, toMillis(now), toMillis(now))
		return dbError("insert instance", err)
	}, "insert instance")
}

// GetInstance returns nil, nil when the instance does not exist.
func (d *Database) GetInstance(ctx context.Context, id string) (*models.ChannelInstance, error) {
	return d.getInstance(ctx, SelectInstanceByIDQuery, id)
}

// GetInstanceByName returns nil, nil when no instance carries the name.
func (d *Database) GetInstanceByName(ctx context.Context, name string) (*models.ChannelInstance, error) {
	return d.getInstance(ctx, SelectInstanceByNameQuery, name)
}

func (d *Database) getInstance(ctx context.Context, query, arg string) (*models.ChannelInstance, error) {
	inst, err := d.scanInstance(d.db.QueryRowContext(ctx, query, arg))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbError("get instance", err)
	}
	return inst, nil
}

// ListInstances lists a tenant's instances, or all of them when tenant is empty.
func (d *Database) ListInstances(ctx context.Context, tenantID string) ([]*models.ChannelInstance, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if tenantID == "" {
		rows, err = d.db.QueryContext(ctx, SelectAllInstancesQuery)
	} else {
		rows, err = d.db.QueryContext(ctx, SelectInstancesByTenant, tenantID)
	}
	if err != nil {
		return nil, dbError("list instances", err)
	}
	defer rows.Close()

	var out []*models.ChannelInstance
	for rows.Next() {
		inst, err := d.scanInstance(rows)
		if err != nil {
			return nil, dbError("scan instance", err)
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

func (d *Database) UpdateInstanceStatus(ctx context.Context, id string, status types.ConnectionStatus, phoneNumber string) error {
	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, UpdateInstanceStatusQuery,
			string(status), phoneNumber, phoneNumber, toMillis(d.now()), id)
		return dbError("update instance status", err)
	}, "update instance status")
}

// UpdateInstanceStatusByName reports whether a row was updated.
func (d *Database) UpdateInstanceStatusByName(ctx context.Context, name string, status types.ConnectionStatus) (bool, error) {
	var affected int64
	err := retryableDBOperationNoReturn(ctx, func() error {
		res, err := d.db.ExecContext(ctx, UpdateInstanceStatusByNameQuery, string(status), toMillis(d.now()), name)
		if err != nil {
			return dbError("update instance status", err)
		}
		affected, err = res.RowsAffected()
		return err
	}, "update instance status")
	return affected > 0, err
}

// UpdateInstanceToken rotates the stored credential. An empty token clears it.
func (d *Database) UpdateInstanceToken(ctx context.Context, id, token string) error {
	key, err := d.encryptor.Encrypt(token)
	if err != nil {
		return fmt.Errorf("failed to encrypt api key: %w", err)
	}
	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, UpdateInstanceTokenQuery, key, toMillis(d.now()), id)
		return dbError("update instance token", err)
	}, "update instance token")
}

func (d *Database) DeleteInstance(ctx context.Context, id string) error {
	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, DeleteInstanceQuery, id)
		return dbError("delete instance", err)
	}, "delete instance")
}
