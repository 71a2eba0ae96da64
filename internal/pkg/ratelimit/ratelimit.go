package ratelimit

import (
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/storage/redis"

	"github.com/MartinGrube/SoloStore/internal/pkg/cache"
	"github.com/MartinGrube/SoloStore/internal/pkg/env"
)

// newStorage builds a Redis-backed limiter store from the existing cache
// client configuration, on database 1 so counters stay out of the cache
// keyspace. Limits then hold across instances instead of per-process.
func newStorage() fiber.Storage {
	host := "localhost"
	port := 6379
	password := env.GetEnv("CACHE_PASSWORD", "")

	if client := cache.GetClient(); client != nil {
		addr := client.Options().Addr
		if h, p, err := net.SplitHostPort(addr); err == nil {
			host = h
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
		if p := client.Options().Password; p != "" {
			password = p
		}
	}

	return redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: 1,
		Reset:    false,
	})
}

// Public is the default per-IP limit for the customer-facing API.
func Public() fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        120,
		Expiration: 1 * time.Minute,
		Storage:    newStorage(),
	})
}

// Checkout throttles session creation harder, keyed by IP plus the requested
// product/version so one abusive client cannot mint unlimited provider
// sessions and a burst against one product does not starve the rest.
func Checkout() fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        20,
		Expiration: 1 * time.Minute,
		Storage:    newStorage(),
		KeyGenerator: func(c *fiber.Ctx) string {
			return checkoutKey(c.IP(), c.Body())
		},
	})
}

// checkoutKey derives the limiter key from the client IP and the product and
// version in the request body. Unparseable bodies collapse onto the zero
// product bucket, which still bounds them per IP.
func checkoutKey(ip string, body []byte) string {
	var req struct {
		ProductID uint `json:"product_id"`
		VersionID uint `json:"version_id"`
	}
	_ = json.Unmarshal(body, &req)
	return fmt.Sprintf("%s:checkout:%d:%d", ip, req.ProductID, req.VersionID)
}
