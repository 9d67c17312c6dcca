package middleware

import (
	"fmt"

	"github.com/stacklok/vgateway/pkg/vgerrors"
	"github.com/stacklok/vgateway/pkg/vglog"
)

// RecoveryLayer is the outermost layer: it runs next under a catch-all,
// converting any panic into a sanitized internal error on ctx.Error so
// nothing escapes as a crash. Per spec.md §7, anything escaping this
// layer is a bug.
func RecoveryLayer() Handler {
	return func(ctx *Context, next Next) {
		defer func() {
			if r := recover(); r != nil {
				vglog.Scoped("recovery").Errorw("panic recovered in request pipeline",
					"request_id", ctx.ID, "panic", r)
				ctx.Error = vgerrors.NewInternalError("internal error", fmt.Errorf("panic: %v", r))
			}
		}()
		next(ctx)
	}
}
