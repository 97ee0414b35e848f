package ports

import (
	"context"

	"github.com/bnema/klapctl/internal/domain"
)

type DeviceRepository interface {
	GetByID(ctx context.Context, id domain.DeviceID) (domain.Device, error)
	List(ctx context.Context) ([]domain.Device, error)
	Save(ctx context.Context, device domain.Device) error
}
