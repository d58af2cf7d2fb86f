package index

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/google/uuid"
	"github.com/maxp/memexpert/internal/domain"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

// QdrantConfig holds connection settings for the vector backend.
type QdrantConfig struct {
	Host       string
	Port       int
	Collection string
	APIKey     string // Qdrant Cloud API key (enables TLS automatically)
	UseTLS     bool   // Explicitly enable TLS without API key
	Dimensions int
}

// apiKeyInterceptor creates a unary interceptor that adds the API key to metadata
func apiKeyInterceptor(apiKey string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", apiKey)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// QdrantIndex implements VectorIndex against a Qdrant collection over gRPC.
type QdrantIndex struct {
	conn          *grpc.ClientConn
	pointsClient  pb.PointsClient
	collectClient pb.CollectionsClient
	collection    string
	dimensions    int
}

// NewQdrantIndex connects to Qdrant.
// Supports both local Qdrant (insecure) and Qdrant Cloud (TLS + API key).
// Parameters:
//   - cfg: connection settings; Dimensions must match the embedding model.
// Returns:
//   - *QdrantIndex: connected adapter.
//   - error: non-nil if the client cannot be built.
func NewQdrantIndex(cfg *QdrantConfig) (*QdrantIndex, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("%w: vector dimensions must be positive", domain.ErrConfiguration)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	var opts []grpc.DialOption
	useTLS := cfg.UseTLS || cfg.APIKey != ""
	if useTLS {
		creds := credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS13})
		opts = append(opts, grpc.WithTransportCredentials(creds))
		if cfg.APIKey != "" {
			opts = append(opts, grpc.WithUnaryInterceptor(apiKeyInterceptor(cfg.APIKey)))
		}
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}

	return &QdrantIndex{
		conn:          conn,
		pointsClient:  pb.NewPointsClient(conn),
		collectClient: pb.NewCollectionsClient(conn),
		collection:    cfg.Collection,
		dimensions:    cfg.Dimensions,
	}, nil
}

// Close closes the gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.conn.Close()
}

// EnsureCollection creates the collection if it does not exist and verifies
// the vector size of an existing one.
// Parameters:
//   - ctx: context for cancellation and deadlines.
// Returns:
//   - error: domain.ErrConfiguration if an existing collection has a
//     different vector size; otherwise the underlying failure.
func (q *QdrantIndex) EnsureCollection(ctx context.Context) error {
	info, err := q.collectClient.Get(ctx, &pb.GetCollectionInfoRequest{
		CollectionName: q.collection,
	})
	if err == nil {
		if size, ok := collectionVectorSize(info.GetResult()); ok {
			if size != uint64(q.dimensions) {
				return fmt.Errorf("%w: collection %s has vector size %d, expected %d",
					domain.ErrConfiguration, q.collection, size, q.dimensions)
			}
		}
		return nil
	}

	_, err = q.collectClient.Create(ctx, &pb.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(q.dimensions),
					Distance: pb.Distance_Cosine,
				},
			},
		},
		HnswConfig: &pb.HnswConfigDiff{
			M:                 optionalUint64(16),
			EfConstruct:       optionalUint64(128),
			FullScanThreshold: optionalUint64(10000),
		},
	})
	if err != nil {
		return fmt.Errorf("%w: failed to create collection: %v", domain.ErrAdapterUnavailable, err)
	}

	return nil
}

func optionalUint64(v uint64) *uint64 {
	return &v
}

func collectionVectorSize(info *pb.CollectionInfo) (uint64, bool) {
	if info == nil {
		return 0, false
	}
	config := info.GetConfig()
	if config == nil {
		return 0, false
	}
	params := config.GetParams()
	if params == nil {
		return 0, false
	}
	vectors := params.GetVectorsConfig()
	if vectors == nil {
		return 0, false
	}
	if single := vectors.GetParams(); single != nil {
		if size := single.GetSize(); size > 0 {
			return size, true
		}
	}
	if paramsMap := vectors.GetParamsMap(); paramsMap != nil {
		for _, vectorParams := range paramsMap.GetMap() {
			if vectorParams == nil {
				continue
			}
			if size := vectorParams.GetSize(); size > 0 {
				return size, true
			}
		}
	}
	return 0, false
}

// Upsert inserts or replaces the point for a meme. Writing the same id
// twice leaves one point, which makes retries safe.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: meme id (must be a UUID).
//   - vector: embedding with the configured dimensionality.
//   - payload: metadata stored with the point.
// Returns:
//   - error: domain.ErrConfiguration on a dimension mismatch,
//     domain.ErrAdapterUnavailable if the backend cannot be reached.
func (q *QdrantIndex) Upsert(ctx context.Context, id string, vector []float32, payload *VectorPayload) error {
	uid, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid point ID: %w", err)
	}
	if len(vector) != q.dimensions {
		return fmt.Errorf("%w: vector has %d dimensions, collection expects %d",
			domain.ErrConfiguration, len(vector), q.dimensions)
	}

	points := []*pb.PointStruct{
		{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: uid.String()},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: vector},
				},
			},
			Payload: map[string]*pb.Value{
				"slug": {Kind: &pb.Value_StringValue{StringValue: payload.Slug}},
				"tags": tagsToValue(payload.Tags),
			},
		},
	}

	_, err = q.pointsClient.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: q.collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("%w: failed to upsert point: %v", domain.ErrAdapterUnavailable, err)
	}

	return nil
}

func tagsToValue(tags []string) *pb.Value {
	values := make([]*pb.Value, len(tags))
	for i, tag := range tags {
		values[i] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: tag}}
	}
	return &pb.Value{
		Kind: &pb.Value_ListValue{
			ListValue: &pb.ListValue{Values: values},
		},
	}
}

// Search returns the nearest points to the query vector, best first.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - vector: query embedding.
//   - limit: maximum number of hits.
// Returns:
//   - []Hit: scored hits, empty when nothing matches.
//   - error: domain.ErrAdapterUnavailable if the backend cannot be reached.
func (q *QdrantIndex) Search(ctx context.Context, vector []float32, limit int) ([]Hit, error) {
	resp, err := q.pointsClient.Search(ctx, &pb.SearchPoints{
		CollectionName: q.collection,
		Vector:         vector,
		Limit:          uint64(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: vector search failed: %v", domain.ErrAdapterUnavailable, err)
	}

	hits := make([]Hit, len(resp.Result))
	for i, scored := range resp.Result {
		hits[i] = Hit{
			ID:    scored.Id.GetUuid(),
			Score: float64(scored.Score),
		}
	}
	return hits, nil
}

// Delete removes the point for a meme. Deleting an absent id succeeds.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: meme id (must be a UUID).
// Returns:
//   - error: domain.ErrAdapterUnavailable if the backend cannot be reached.
func (q *QdrantIndex) Delete(ctx context.Context, id string) error {
	uid, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid point ID: %w", err)
	}

	_, err = q.pointsClient.Delete(ctx, &pb.DeletePoints{
		CollectionName: q.collection,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{
					Ids: []*pb.PointId{
						{PointIdOptions: &pb.PointId_Uuid{Uuid: uid.String()}},
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("%w: failed to delete point: %v", domain.ErrAdapterUnavailable, err)
	}

	return nil
}
