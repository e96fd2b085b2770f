package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-toko-pay/internal/migrate"
	"github.com/noah-isme/backend-toko-pay/internal/obs"
	"github.com/noah-isme/backend-toko-pay/internal/order"
	"github.com/noah-isme/backend-toko-pay/internal/repo"
)

func main() {
	serial := flag.String("serial", "A-1001", "serial of the demo order")
	email := flag.String("email", "buyer@example.com", "buyer email")
	withMigrations := flag.Bool("migrate", true, "apply migrations before seeding")
	flag.Parse()

	logger := obs.NewLogger("console", "info").With().Str("component", "seeder").Logger()
	if err := godotenv.Load(); err != nil {
		logger.Info().Msg("no .env file found, relying on environment variables")
	}

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		logger.Fatal().Msg("DATABASE_URL is not set")
	}

	if *withMigrations {
		m, err := migrate.New(dsn)
		if err != nil {
			logger.Fatal().Err(err).Msg("open migrations")
		}
		if err := migrate.Up(m); err != nil {
			logger.Fatal().Err(err).Msg("apply migrations")
		}
		_, _ = m.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	orders := repo.Orders{DB: pool}
	existing, err := orders.Read(ctx, *serial)
	switch {
	case err == nil:
		logger.Info().Str("serial", existing.Serial).Str("uuid", existing.UUID).Msg("demo order already present")
		return
	case !errors.Is(err, order.ErrNotFound):
		logger.Fatal().Err(err).Msg("look up demo order")
	}

	o := demoOrder(*serial, *email)
	if err := orders.Create(ctx, o); err != nil {
		logger.Fatal().Err(err).Msg("create demo order")
	}
	logger.Info().Str("serial", o.Serial).Str("uuid", o.UUID).Str("total", o.TotalSum.StringFixed(2)).Msg("demo order created")
}

func demoOrder(serial, email string) *order.Order {
	items := []order.LineItem{
		line("Чайник заварочный", "250.00", "2"),
		line("Чай улун, 100 г", "420.50", "1"),
		line("Подарочная открытка", "0", "1"),
	}
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.TotalPrice)
	}
	return &order.Order{
		Serial:   serial,
		Email:    email,
		Phone:    "+79990001122",
		Delivery: order.Delivery{Client: "Иван Петров", Address: "Москва, ул. Примерная, 1"},
		Products: items,
		TotalSum: total,
	}
}

func line(title, price, qty string) order.LineItem {
	unit := decimal.RequireFromString(price)
	quantity := decimal.RequireFromString(qty)
	return order.LineItem{
		Title:      title,
		UnitPrice:  unit,
		Quantity:   quantity,
		TotalPrice: unit.Mul(quantity),
	}
}
