package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Role selects which model a request prefers.
type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// Router sends prompts to a preferred model and falls back to the other one
// when the preferred model keeps failing. Each model is tried Retries+1 times
// with linear backoff.
type Router struct {
	Teacher    LLMClient
	Student    LLMClient
	Retries    int
	RetryDelay time.Duration
	Logger     *slog.Logger
}

func NewRouterFromClients(teacher, student LLMClient, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		Teacher: teacher,
		Student: student,
		Logger:  logger,
	}
}

// Generate prefers the teacher model, so a Router can stand in for an
// LLMClient.
func (r *Router) Generate(ctx context.Context, prompt string) (string, error) {
	return r.GenerateWithFallback(ctx, RoleTeacher, prompt)
}

// ForRole returns an LLMClient bound to role.
func (r *Router) ForRole(role Role) LLMClient {
	return roleClient{router: r, role: role}
}

type roleClient struct {
	router *Router
	role   Role
}

func (c roleClient) Generate(ctx context.Context, prompt string) (string, error) {
	return c.router.GenerateWithFallback(ctx, c.role, prompt)
}

func (r *Router) GenerateWithFallback(ctx context.Context, role Role, prompt string) (string, error) {
	primary, secondary := r.Teacher, r.Student
	if role == RoleStudent {
		primary, secondary = r.Student, r.Teacher
	}

	var errs []error
	for i, client := range []LLMClient{primary, secondary} {
		if client == nil {
			continue
		}
		if i == 1 && len(errs) > 0 {
			r.logger().Warn("falling back to secondary model", "role", role, "error", errs[len(errs)-1])
		}
		out, err := r.withRetry(ctx, client, prompt)
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return "", errors.New("no llm client available")
	}
	return "", fmt.Errorf("all models failed: %w", errors.Join(errs...))
}

func (r *Router) withRetry(ctx context.Context, client LLMClient, prompt string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= r.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * r.RetryDelay):
			}
		}
		out, err := client.Generate(ctx, prompt)
		if err == nil {
			return out, nil
		}
		lastErr = err
		r.logger().Debug("llm call failed", "attempt", attempt+1, "error", err)
	}
	return "", lastErr
}

func (r *Router) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}
