package application

import "github.com/bnema/klapctl/internal/domain"

type AddDeviceCommand struct {
	ID       domain.DeviceID
	Name     string
	Address  string
	Username string
}
