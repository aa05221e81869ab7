package holdfast

import "context"

// ToolFunc is the function signature that Guard protects. The caller
// provides a Request describing who is attempting what.
type ToolFunc func(ctx context.Context, req Request) (any, error)

// Guard returns a new ToolFunc that evaluates the access decision before
// calling fn. If the decision denies, Guard returns a *DeniedError without
// calling fn.
func (c *Client) Guard(fn ToolFunc, opts ...GuardOption) ToolFunc {
	gcfg := guardConfig{ip: c.cfg.sourceIP}
	for _, o := range opts {
		o(&gcfg)
	}

	return func(ctx context.Context, req Request) (any, error) {
		if req.IP == "" {
			req.IP = gcfg.ip
		}

		result := c.Authorize(ctx, req)
		if !result.Allowed {
			return nil, &DeniedError{
				Request: req,
				Reason:  result.Reason,
				Detail:  result.Detail,
			}
		}
		return fn(ctx, req)
	}
}
