package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonathanaloya/e-comm-sub000/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type mongoOrderRepository struct {
	collection *mongo.Collection
}

func NewMongoOrderRepository(db *mongo.Database) OrderRepository {
	return &mongoOrderRepository{
		collection: db.Collection("orders"),
	}
}

func (m *mongoOrderRepository) Create(ctx context.Context, order *domain.Order) error {
	now := time.Now()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now

	_, err := m.collection.InsertOne(ctx, order)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

func (m *mongoOrderRepository) GetByID(ctx context.Context, orderID string) (*domain.Order, error) {
	return m.findOne(ctx, bson.M{"_id": orderID})
}

func (m *mongoOrderRepository) GetByTxRef(ctx context.Context, txRef string) (*domain.Order, error) {
	return m.findOne(ctx, bson.M{"tx_ref": txRef})
}

func (m *mongoOrderRepository) findOne(ctx context.Context, filter bson.M) (*domain.Order, error) {
	var order domain.Order
	err := m.collection.FindOne(ctx, filter).Decode(&order)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return &order, nil
}

func (m *mongoOrderRepository) ListByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	filter := bson.M{"user_id": userID}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})

	cursor, err := m.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}

	var orders []domain.Order
	if err := cursor.All(ctx, &orders); err != nil {
		return nil, fmt.Errorf("failed to decode orders: %w", err)
	}
	return orders, nil
}

// SettlePayment moves an order from pending to the given terminal payment
// status with one conditional write. The payment_status guard in the filter
// makes the operation idempotent: whichever caller matches the pending document
// wins, every other caller matches nothing and observes the settled order.
// Because lines live inside the aggregate document there is no partial-line
// update to guard against.
func (m *mongoOrderRepository) SettlePayment(ctx context.Context, orderID string, status domain.PaymentStatus, paymentRef string) (*domain.Order, bool, error) {
	if status != domain.PaymentStatusPaid && status != domain.PaymentStatusFailed {
		return nil, false, fmt.Errorf("settle payment: %q is not a terminal payment status", status)
	}

	set := bson.M{
		"payment_status": status,
		"payment_ref":    paymentRef,
		"updated_at":     time.Now(),
	}
	if status == domain.PaymentStatusPaid {
		set["order_status"] = domain.OrderStatusConfirmed
	}

	filter := bson.M{"_id": orderID, "payment_status": domain.PaymentStatusPending}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var order domain.Order
	err := m.collection.FindOneAndUpdate(ctx, filter, bson.M{"$set": set}, opts).Decode(&order)
	if err == nil {
		return &order, true, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, fmt.Errorf("failed to settle payment: %w", err)
	}

	// Nothing pending matched: either the order is already terminal, or it
	// never existed. Fetch to tell the two apart.
	existing, getErr := m.GetByID(ctx, orderID)
	if getErr != nil {
		return nil, false, getErr
	}
	return existing, false, nil
}

func (m *mongoOrderRepository) AdvanceStatus(ctx context.Context, orderID string, next domain.OrderStatus) (*domain.Order, error) {
	current, err := m.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !current.OrderStatus.CanTransitionTo(next) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, current.OrderStatus, next)
	}

	// Guard on the observed status so two concurrent advances cannot leapfrog.
	filter := bson.M{"_id": orderID, "order_status": current.OrderStatus}
	update := bson.M{"$set": bson.M{"order_status": next, "updated_at": time.Now()}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var order domain.Order
	err = m.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&order)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: order %s changed concurrently", ErrIllegalTransition, orderID)
		}
		return nil, fmt.Errorf("failed to advance order status: %w", err)
	}
	return &order, nil
}

func (m *mongoOrderRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
		},
		{
			Keys:    bson.D{{Key: "tx_ref", Value: 1}},
			Options: options.Index().SetUnique(true).SetSparse(true),
		},
	}

	_, err := m.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create order indexes: %w", err)
	}
	return nil
}
