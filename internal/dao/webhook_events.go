package dao

import (
	"context"
	"fmt"

	dgs "github.com/Daneel-Li/dgshop/internal/models"
)

func (d *MysqlRepository) SaveWebhookEvent(ctx context.Context, event *dgs.WebhookEvent) (bool, error) {
	err := d.conn(ctx).Create(event).Error
	if isDuplicateKey(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("save webhook event %s/%s failed: %w", event.Provider, event.EventID, err)
	}
	return true, nil
}
