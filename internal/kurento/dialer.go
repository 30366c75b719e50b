package kurento

import (
	"context"
	"time"

	"github.com/nguyenquan715/kurento-one2many/internal/domain"
)

// Dialer opens Kurento clients for the broadcast service.
type Dialer struct {
	URI               string
	RequestTimeout    time.Duration
	KeepaliveInterval time.Duration
}

func (d Dialer) Dial(ctx context.Context) (domain.MediaClient, error) {
	client, err := Dial(ctx, d.URI,
		WithRequestTimeout(d.RequestTimeout),
		WithKeepaliveInterval(d.KeepaliveInterval),
	)
	if err != nil {
		return nil, err
	}
	return client, nil
}
