package receipt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_pos/pos-terminal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var ErrReceiptNotFound = errors.New("receipt not found")

const collectionName = "receipts"

func ConnectMongoDB(ctx context.Context, uri, database string) (*mongo.Database, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetMaxPoolSize(20)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return client.Database(database), nil
}

// Document is the archived form of a receipt.
type Document struct {
	TransactionID string    `bson:"transaction_id" json:"transaction_id"`
	SaleID        int64     `bson:"sale_id" json:"sale_id"`
	SaleNumber    string    `bson:"sale_number" json:"sale_number"`
	SaleDate      time.Time `bson:"sale_date" json:"sale_date"`
	StoreID       int64     `bson:"store_id" json:"store_id"`
	UserID        int64     `bson:"user_id" json:"user_id"`
	Total         float64   `bson:"total" json:"total"`
	PaymentMethod string    `bson:"payment_method" json:"payment_method"`
	Lines         []Line    `bson:"lines" json:"lines"`
	Text          string    `bson:"text" json:"text"`
	ArchivedAt    time.Time `bson:"archived_at" json:"archived_at"`
}

type Line struct {
	ProductID int64   `bson:"product_id" json:"product_id"`
	Name      string  `bson:"name" json:"name"`
	Quantity  int     `bson:"quantity" json:"quantity"`
	Price     float64 `bson:"price" json:"price"`
}

// Archive stores receipts in MongoDB keyed by transaction id, so emitting
// the same sale twice keeps one document.
type Archive struct {
	collection *mongo.Collection
	header     string
}

func NewArchive(db *mongo.Database, header string) *Archive {
	return &Archive{collection: db.Collection(collectionName), header: header}
}

func (a *Archive) CreateIndexes(ctx context.Context) error {
	_, err := a.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "transaction_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "sale_number", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create receipt indexes: %w", err)
	}
	return nil
}

func (a *Archive) Emit(ctx context.Context, sale domain.CommittedSale) error {
	doc := toDocument(sale, a.header)
	filter := bson.M{"transaction_id": doc.TransactionID}
	_, err := a.collection.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to archive receipt: %w", err)
	}
	return nil
}

// BySaleNumber returns an archived receipt for reprinting.
func (a *Archive) BySaleNumber(ctx context.Context, saleNumber string) (*Document, error) {
	var doc Document
	err := a.collection.FindOne(ctx, bson.M{"sale_number": saleNumber}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrReceiptNotFound
		}
		return nil, fmt.Errorf("failed to get receipt: %w", err)
	}
	return &doc, nil
}

func toDocument(sale domain.CommittedSale, header string) Document {
	tx := sale.Transaction
	lines := make([]Line, len(tx.Lines))
	for i, l := range tx.Lines {
		lines[i] = Line{ProductID: l.ProductID, Name: l.Name, Quantity: l.Quantity, Price: l.Price}
	}
	return Document{
		TransactionID: tx.ID,
		SaleID:        sale.SaleID,
		SaleNumber:    sale.SaleNumber,
		SaleDate:      sale.SaleDate.UTC(),
		StoreID:       tx.Session.StoreID,
		UserID:        tx.Session.UserID,
		Total:         tx.Totals.Total,
		PaymentMethod: string(tx.PaymentMethod),
		Lines:         lines,
		Text:          Render(sale, header),
		ArchivedAt:    time.Now().UTC(),
	}
}
