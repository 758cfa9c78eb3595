package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	mongoadapter "github.com/robertarktes/payment-orders/internal/adapters/mongo"
	"github.com/robertarktes/payment-orders/internal/adapters/postgres"
	"github.com/robertarktes/payment-orders/internal/adapters/rabbit"
	redisadapter "github.com/robertarktes/payment-orders/internal/adapters/redis"
	"github.com/robertarktes/payment-orders/internal/attendance"
	"github.com/robertarktes/payment-orders/internal/config"
	"github.com/robertarktes/payment-orders/internal/gateway"
	httphandler "github.com/robertarktes/payment-orders/internal/http"
	"github.com/robertarktes/payment-orders/internal/idempotency"
	"github.com/robertarktes/payment-orders/internal/observability"
	"github.com/robertarktes/payment-orders/internal/order"
	"github.com/robertarktes/payment-orders/internal/outbox"
	"github.com/robertarktes/payment-orders/internal/ratelimit"
	"github.com/robertarktes/payment-orders/internal/reservation"
	"github.com/robertarktes/payment-orders/internal/signature"
	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const merchantSalt = "integration-salt"

type stack struct {
	srv       *httptest.Server
	repo      *postgres.Repository
	gw        *gateway.Client
	catalog   *mongoadapter.CatalogRepository
	outboxPub *outbox.Publisher
	rabbitURL string
}

func startContainer(t *testing.T, req testcontainers.ContainerRequest) testcontainers.Container {
	t.Helper()
	ctx := context.Background()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Terminate(ctx) })
	return c
}

func endpoint(t *testing.T, c testcontainers.Container, port string) string {
	t.Helper()
	ctx := context.Background()
	host, err := c.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	mapped, err := c.MappedPort(ctx, nat.Port(port))
	if err != nil {
		t.Fatal(err)
	}
	return host + ":" + mapped.Port()
}

func setupStack(t *testing.T) *stack {
	t.Helper()
	ctx := context.Background()

	pgC := startContainer(t, testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "payments",
			"POSTGRES_PASSWORD": "payments",
			"POSTGRES_DB":       "payments",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
	})
	mongoC := startContainer(t, testcontainers.ContainerRequest{
		Image:        "mongo:7",
		ExposedPorts: []string{"27017/tcp"},
		WaitingFor:   wait.ForListeningPort("27017/tcp"),
	})
	redisC := startContainer(t, testcontainers.ContainerRequest{
		Image:        "redis:7",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp"),
	})
	rabbitC := startContainer(t, testcontainers.ContainerRequest{
		Image:        "rabbitmq:3.13",
		ExposedPorts: []string{"5672/tcp"},
		WaitingFor:   wait.ForListeningPort("5672/tcp"),
	})

	cfg := &config.Config{
		PostgresDSN:        "postgresql://payments:payments@" + endpoint(t, pgC, "5432") + "/payments?sslmode=disable",
		MongoURI:           "mongodb://" + endpoint(t, mongoC, "27017"),
		RedisAddr:          endpoint(t, redisC, "6379"),
		RabbitURL:          "amqp://guest:guest@" + endpoint(t, rabbitC, "5672") + "/",
		GatewayURL:         "https://sandbox.gateway.example/pay",
		MerchantKey:        "merchant-key",
		MerchantSalt:       merchantSalt,
		SuccessURL:         "https://app.example/pay/success",
		FailureURL:         "https://app.example/pay/failure",
		PlatformFeePercent: decimal.RequireFromString("10"),
		ReservationTTL:     10 * time.Minute,
		OrderTTL:           10 * time.Minute,
		IdempotencyTTL:     time.Hour,
	}

	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(pool.Close)
	if _, err := pool.Exec(ctx, postgres.Schema); err != nil {
		t.Fatal(err)
	}
	repo := postgres.NewRepository(pool)

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { mongoClient.Disconnect(ctx) })
	mongoDB := mongoClient.Database("payments")

	logger := observability.NewLogger()
	catalog := mongoadapter.NewCatalogRepository(mongoDB, logger)
	archive := mongoadapter.NewGatewayArchive(mongoDB, logger)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	t.Cleanup(func() { redisClient.Close() })
	cache := redisadapter.NewCache(redisClient)
	idemp := idempotency.NewIdempotency(redisadapter.NewIdempotency(redisClient), cfg.IdempotencyTTL, logger)
	rl := ratelimit.NewRateLimiter(cache)

	rabbitConn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { rabbitConn.Close() })
	rabbitPub, err := rabbit.NewPublisher(rabbitConn)
	if err != nil {
		t.Fatal(err)
	}

	signer := signature.NewService(cfg.MerchantSalt, logger)
	gw := gateway.NewClient(cfg.GatewayURL, cfg.MerchantKey, signer)
	reservations := reservation.NewManager(repo, cfg.ReservationTTL, logger)
	bridge := attendance.NewBridge(reservations, repo, logger)
	orders := order.NewService(repo, catalog, gw, cache, logger,
		cfg.PlatformFeePercent, cfg.OrderTTL, "INR", cfg.SuccessURL, cfg.FailureURL)
	finalizer := order.NewFinalizer(repo, bridge, gw, archive, logger)

	handlers := httphandler.NewHandlers(cfg, orders, finalizer, reservations, idemp, nil)
	srv := httptest.NewServer(httphandler.SetupRouter(handlers, logger, rl))
	t.Cleanup(srv.Close)

	return &stack{
		srv:       srv,
		repo:      repo,
		gw:        gw,
		catalog:   catalog,
		outboxPub: outbox.NewPublisher(repo, rabbitPub, logger),
		rabbitURL: cfg.RabbitURL,
	}
}

func (s *stack) postJSON(t *testing.T, path string, userID uuid.UUID, body map[string]interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	data, _ := json.Marshal(body)
	req, _ := http.NewRequest("POST", s.srv.URL+path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", uuid.New().String())
	req.Header.Set("X-User-ID", userID.String())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var decoded map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func (s *stack) postCallback(t *testing.T, path string, cb gateway.Callback) (*http.Response, map[string]interface{}) {
	t.Helper()
	form := url.Values{}
	form.Set("txnid", cb.OrderRef)
	form.Set("status", cb.Status)
	form.Set("amount", cb.Amount)
	form.Set("productinfo", cb.ProductInfo)
	form.Set("firstname", cb.FirstName)
	form.Set("email", cb.Email)
	form.Set("mihpayid", cb.PaymentID)
	form.Set("error_Message", cb.Reason)
	form.Set("hash", cb.Hash)
	resp, err := http.Post(s.srv.URL+path, "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var decoded map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestIntegration_ReserveCreateFinalize(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}
	s := setupStack(t)
	ctx := context.Background()

	eventID, hostID, buyerID := uuid.New(), uuid.New(), uuid.New()
	if err := s.repo.CreateEvent(ctx, eventID, hostID, 50); err != nil {
		t.Fatal(err)
	}
	err := s.catalog.CreateEvent(ctx, mongoadapter.EventDoc{
		ID:          eventID,
		Name:        "Go Meetup Pune",
		IsPaid:      true,
		TicketPrice: "499.00",
		Currency:    "INR",
	})
	if err != nil {
		t.Fatal(err)
	}

	// Reserve a seat.
	resp, body := s.postJSON(t, "/v1/reservations", buyerID, map[string]interface{}{
		"event_id": eventID.String(),
		"seats":    1,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("reservation failed: %d %v", resp.StatusCode, body)
	}
	reservationKey, _ := body["reservation_key"].(string)
	if reservationKey == "" {
		t.Fatal("missing reservation_key")
	}

	// Create the order with the advertised total.
	resp, body = s.postJSON(t, "/v1/payments/orders", buyerID, map[string]interface{}{
		"event_id":        eventID.String(),
		"seats":           1,
		"amount":          "549.00",
		"reservation_key": reservationKey,
		"buyer_name":      "Asha",
		"buyer_email":     "asha@example.com",
		"buyer_phone":     "9999999999",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("order creation failed: %d %v", resp.StatusCode, body)
	}
	orderRef, _ := body["order_ref"].(string)
	if body["status"] != "PENDING" {
		t.Fatalf("expected PENDING after redirect handover, got %v", body["status"])
	}
	redirect, _ := body["redirect"].(map[string]interface{})
	fields, _ := redirect["payload"].(map[string]interface{})
	if fields["amount"] != "549.00" || fields["txnid"] != orderRef {
		t.Fatalf("redirect payload wrong: %v", fields)
	}

	// Gateway reports success on the redirect channel.
	cb := gateway.Callback{
		OrderRef:    orderRef,
		Status:      "success",
		Amount:      "549.00",
		ProductInfo: fields["productinfo"].(string),
		FirstName:   "Asha",
		Email:       "asha@example.com",
		PaymentID:   "mih-0001",
	}
	cb.Hash = s.gw.SignCallback(cb)

	resp, body = s.postCallback(t, "/v1/payments/gateway/success", cb)
	if resp.StatusCode != http.StatusOK || body["status"] != "PAID" {
		t.Fatalf("success callback failed: %d %v", resp.StatusCode, body)
	}

	// The duplicate webhook signal is a no-op, still 200.
	wbody, _ := json.Marshal(map[string]string{
		"txnid": cb.OrderRef, "status": cb.Status, "amount": cb.Amount,
		"productinfo": cb.ProductInfo, "firstname": cb.FirstName,
		"email": cb.Email, "mihpayid": cb.PaymentID, "hash": cb.Hash,
	})
	wresp, err := http.Post(s.srv.URL+"/v1/payments/gateway/webhook", "application/json", bytes.NewReader(wbody))
	if err != nil {
		t.Fatal(err)
	}
	wresp.Body.Close()
	if wresp.StatusCode != http.StatusOK {
		t.Fatalf("webhook repeat must be 200, got %d", wresp.StatusCode)
	}

	// Exactly one attendee despite the duplicate signal.
	att, err := s.repo.GetAttendee(ctx, eventID, buyerID)
	if err != nil {
		t.Fatal(err)
	}
	if att.Seats != 1 {
		t.Errorf("expected 1 attendee seat, got %d", att.Seats)
	}

	// Buyer sees the paid order with its provider payment id.
	req, _ := http.NewRequest("GET", s.srv.URL+"/v1/payments/orders/"+orderRef, nil)
	req.Header.Set("X-User-ID", buyerID.String())
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	var view map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&view)
	resp.Body.Close()
	if view["status"] != "PAID" || view["provider_payment_id"] != "mih-0001" {
		t.Fatalf("unexpected order view: %v", view)
	}

	// The queued notification ships to RabbitMQ on the next publisher tick.
	// The queue binding must exist before the publisher starts draining.
	conn, err := amqp.Dial(s.rabbitURL)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	consumer, err := rabbit.NewConsumer(conn, "it-payments", "payment.succeeded")
	if err != nil {
		t.Fatal(err)
	}
	deliveries, err := consumer.Consume(ctx)
	if err != nil {
		t.Fatal(err)
	}

	pubCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.outboxPub.Run(pubCtx)
	select {
	case d := <-deliveries:
		var msg map[string]string
		json.Unmarshal(d.Body, &msg)
		if msg["order_ref"] != orderRef {
			t.Errorf("notification for wrong order: %v", msg)
		}
	case <-time.After(30 * time.Second):
		t.Fatal("payment.succeeded never reached the broker")
	}
}

func TestIntegration_AmountMismatchRejected(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}
	s := setupStack(t)
	ctx := context.Background()

	eventID, hostID, buyerID := uuid.New(), uuid.New(), uuid.New()
	if err := s.repo.CreateEvent(ctx, eventID, hostID, 10); err != nil {
		t.Fatal(err)
	}
	err := s.catalog.CreateEvent(ctx, mongoadapter.EventDoc{
		ID: eventID, Name: "Stale Price Event", IsPaid: true, TicketPrice: "599.00", Currency: "INR",
	})
	if err != nil {
		t.Fatal(err)
	}

	resp, body := s.postJSON(t, "/v1/reservations", buyerID, map[string]interface{}{
		"event_id": eventID.String(),
		"seats":    1,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("reservation failed: %d %v", resp.StatusCode, body)
	}

	// Client still shows the old 499 price; the server must answer with the
	// current expected total and create nothing.
	resp, body = s.postJSON(t, "/v1/payments/orders", buyerID, map[string]interface{}{
		"event_id":        eventID.String(),
		"seats":           1,
		"amount":          "549.00",
		"reservation_key": body["reservation_key"],
		"buyer_name":      "Ravi",
		"buyer_email":     "ravi@example.com",
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d %v", resp.StatusCode, body)
	}
	if body["expected_amount"] != "659.00" {
		t.Errorf("expected corrected amount 659.00, got %v", body["expected_amount"])
	}
}
