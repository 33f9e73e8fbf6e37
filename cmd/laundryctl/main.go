package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jogardn/laundry-orders/internal/orders"
	"github.com/jogardn/laundry-orders/pkg/models"
)

const usage = `usage: laundryctl [-url URL] [-token TOKEN] <command> [args]

commands:
  login <email> [customer|admin]     start a session and print its token
  logout
  me
  address <label> <details> <pincode>
  pricing [category]
  cart
  add <item-id> <quantity>           a negative quantity reduces the line
  remove <item-id>
  clear
  checkout <pickup-date> <slot-index> [address-id] [idempotency-key]
  orders [status]
  order <order-id>
  actions <order-id>
  status <order-id> <status>
  stats
  reset-breaker <name>               close a tripped circuit breaker (storage, events)
`

func main() {
	baseURL := flag.String("url", getEnv("LAUNDRY_URL", "http://localhost:8080"), "API base URL")
	token := flag.String("token", os.Getenv("LAUNDRY_TOKEN"), "session token")
	timeout := flag.Duration("timeout", 10*time.Second, "request timeout")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.WarnLevel)

	client := orders.NewClient(*baseURL, logger)
	client.SetToken(*token)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	out, err := run(ctx, client, flag.Arg(0), flag.Args()[1:])
	if err != nil {
		var apiErr *orders.APIError
		if errors.As(err, &apiErr) {
			fmt.Fprintf(os.Stderr, "error (%d): %s\n", apiErr.StatusCode, apiErr.Message)
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
	if out != nil {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		encoder.Encode(out)
	}
}

var errUsage = errors.New("wrong number of arguments, see laundryctl -h")

func run(ctx context.Context, client *orders.Client, command string, args []string) (interface{}, error) {
	need := func(min int) error {
		if len(args) < min {
			return errUsage
		}
		return nil
	}
	arg := func(i int) string {
		if i < len(args) {
			return args[i]
		}
		return ""
	}

	switch command {
	case "login":
		if err := need(1); err != nil {
			return nil, err
		}
		role := models.RoleCustomer
		if r := arg(1); r != "" {
			role = models.Role(r)
		}
		user, err := client.Login(ctx, arg(0), role)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"token": client.Token(), "user": user}, nil
	case "logout":
		return nil, client.Logout(ctx)
	case "me":
		return client.Me(ctx)
	case "address":
		if err := need(3); err != nil {
			return nil, err
		}
		return client.AddAddress(ctx, models.Address{Label: arg(0), Details: arg(1), Pincode: arg(2)})
	case "pricing":
		return client.Pricing(ctx, models.ServiceCategory(arg(0)))
	case "cart":
		return client.Cart(ctx)
	case "add":
		if err := need(2); err != nil {
			return nil, err
		}
		quantity, err := strconv.Atoi(arg(1))
		if err != nil {
			return nil, fmt.Errorf("invalid quantity %q", arg(1))
		}
		return client.AddToCart(ctx, arg(0), quantity)
	case "remove":
		if err := need(1); err != nil {
			return nil, err
		}
		return client.RemoveFromCart(ctx, arg(0))
	case "clear":
		return client.ClearCart(ctx)
	case "checkout":
		if err := need(2); err != nil {
			return nil, err
		}
		slot, err := strconv.Atoi(arg(1))
		if err != nil || slot < 0 || slot >= len(models.PickupSlots) {
			return nil, fmt.Errorf("slot index must be 0-%d", len(models.PickupSlots)-1)
		}
		return client.Checkout(ctx, orders.CheckoutRequest{
			PickupDate:     arg(0),
			PickupSlot:     models.PickupSlots[slot],
			AddressID:      arg(2),
			IdempotencyKey: arg(3),
		})
	case "orders":
		return client.Orders(ctx, models.OrderStatus(arg(0)))
	case "order":
		if err := need(1); err != nil {
			return nil, err
		}
		return client.Order(ctx, arg(0))
	case "actions":
		if err := need(1); err != nil {
			return nil, err
		}
		return client.Actions(ctx, arg(0))
	case "status":
		if err := need(2); err != nil {
			return nil, err
		}
		status, err := models.ParseOrderStatus(arg(1))
		if err != nil {
			return nil, err
		}
		return client.UpdateStatus(ctx, arg(0), status)
	case "stats":
		return client.Stats(ctx)
	case "reset-breaker":
		if err := need(1); err != nil {
			return nil, err
		}
		return client.ResetBreaker(ctx, arg(0))
	default:
		return nil, fmt.Errorf("unknown command %q", command)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
