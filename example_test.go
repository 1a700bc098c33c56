package rwpool

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"
	"go.uber.org/zap"
)

func ExampleTestDB() {
	db := &TestDB{
		ExecuteFunc: func(ctx context.Context, q Query, params any) (*Result, error) {
			return NewResult("id", "name").AddRow(42, "My Project").Build(), nil
		},
	}

	res, err := db.Execute(context.Background(), Select("SELECT id, name FROM projects WHERE id = $1"), 42)
	if err != nil {
		fmt.Println("unexpected error")
		return
	}

	fmt.Println(res.Rows[0]["id"], res.Rows[0]["name"])
	// Output: 42 My Project
}

func ExampleTestDB_Healthcheck() {
	h := (&TestDB{}).Healthcheck(context.Background())
	fmt.Println(h.Primary.Available, h.Replica.Available)
	// Output: true true
}

func ExampleRemainingBudgetBackoff() {
	for remaining := 3; remaining > 1; remaining-- {
		fmt.Println(RemainingBudgetBackoff(remaining))
	}
	// Output:
	// 500ms
	// 2s
}

func ExampleConfig() {
	cfg := Config{
		Primary: PoolConfig{Host: "primary.db.internal", Database: "app", User: "app"},
		Replica: PoolConfig{Host: "replica.db.internal", Database: "app", User: "app"},
		Backoff: ExponentialBackoff(100*time.Millisecond, 5),
		Retries: 5,
		Logger:  NewZapLogger(zap.NewExample()),
	}
	_ = cfg
	fmt.Println(pgxConnString(cfg.Replica))
	// Output: postgres://app@replica.db.internal/app
}

func ExampleWithPgxConfig_tracing() {
	logger := zap.NewNop()

	opt := WithPgxConfig(func(role Role, c *pgxpool.Config) {
		c.ConnConfig.Tracer = &tracelog.TraceLog{
			Logger: tracelog.LoggerFunc(func(ctx context.Context, level tracelog.LogLevel, msg string, data map[string]any) {
				fields := []zap.Field{zap.Stringer("role", role), zap.String("pgx_level", level.String())}
				for k, v := range data {
					if k == "sql" || k == "args" {
						continue
					}
					fields = append(fields, zap.Any(k, v))
				}
				logger.Info(msg, fields...)
			}),
			LogLevel: tracelog.LogLevelInfo,
		}
	})

	_ = opt
	fmt.Println("tracing configured")
	// Output: tracing configured
}
