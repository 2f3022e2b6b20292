package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonathanaloya/e-comm-sub000/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// Read-only views over collections owned by the catalog and address CRUD
// surfaces. Checkout only ever reads them.

type mongoProductCatalog struct {
	collection *mongo.Collection
}

func NewMongoProductCatalog(db *mongo.Database) ProductCatalog {
	return &mongoProductCatalog{collection: db.Collection("products")}
}

func (m *mongoProductCatalog) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	var product domain.Product
	err := m.collection.FindOne(ctx, bson.M{"_id": productID}).Decode(&product)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return &product, nil
}

type mongoAddressStore struct {
	collection *mongo.Collection
}

func NewMongoAddressStore(db *mongo.Database) AddressStore {
	return &mongoAddressStore{collection: db.Collection("addresses")}
}

func (m *mongoAddressStore) GetAddress(ctx context.Context, userID, addressID string) (*domain.Address, error) {
	// Ownership is part of the filter: another user's address is "not found".
	filter := bson.M{"_id": addressID, "user_id": userID}

	var addr domain.Address
	err := m.collection.FindOne(ctx, filter).Decode(&addr)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrAddressNotFound
		}
		return nil, fmt.Errorf("failed to get address: %w", err)
	}
	return &addr, nil
}
