package core

import (
	"context"
	"time"

	"github.com/ensclub/ens-verify/types"
	"github.com/pkg/errors"
)

// RoleClient adds a role to a member of a chat group. Adding a role the member
// already has is expected to succeed.
type RoleClient interface {
	AddMemberRole(ctx context.Context, guildId, userId, roleId string) error
}

type GrantService interface {
	Grant(ctx context.Context, guildId, userId string) error
}

func NewGrantService(client RoleClient, roleId string, timeout time.Duration) GrantService {
	return &grantService{
		client:  client,
		roleId:  roleId,
		timeout: timeout,
	}
}

type grantService struct {
	client  RoleClient
	roleId  string
	timeout time.Duration
}

// Grant makes a single attempt. Failures match types.ErrGrantFailed and,
// for upstream answers, carry status and body as *types.GrantError.
func (g *grantService) Grant(ctx context.Context, guildId, userId string) error {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	start := time.Now()
	err := g.client.AddMemberRole(ctx, guildId, userId, g.roleId)
	upstreamDuration.WithLabelValues("grant", resultLabel(err)).Observe(time.Since(start).Seconds())
	if err == nil {
		return nil
	}
	var upstreamErr *types.UpstreamError
	if errors.As(err, &upstreamErr) {
		return &types.GrantError{
			Status: upstreamErr.Status,
			Body:   upstreamErr.Body,
		}
	}
	return errors.Wrapf(types.ErrGrantFailed, "%v", err)
}
