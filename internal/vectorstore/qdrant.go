package vectorstore

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// QdrantConfig holds connection settings for a Qdrant instance.
type QdrantConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Client wraps gRPC connections to Qdrant's collections and points services.
type Client struct {
	conn        *grpc.ClientConn
	collections pb.CollectionsClient
	points      pb.PointsClient
}

// NewClient dials the Qdrant gRPC endpoint and returns a ready Client.
func NewClient(cfg QdrantConfig) (*Client, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect %s: %w", addr, err)
	}
	return &Client{
		conn:        conn,
		collections: pb.NewCollectionsClient(conn),
		points:      pb.NewPointsClient(conn),
	}, nil
}

// EnsureCollection creates a cosine collection of the given dimension and
// keyword indexes on the payload fields searches filter by. An existing
// collection is left as is.
func (c *Client) EnsureCollection(ctx context.Context, name string, dimension uint64, indexed ...string) error {
	if _, err := c.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: name}); err == nil {
		return nil
	}
	_, err := c.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{Size: dimension, Distance: pb.Distance_Cosine},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}

	wait := true
	keyword := pb.FieldType_FieldTypeKeyword
	for _, field := range indexed {
		_, err := c.points.CreateFieldIndex(ctx, &pb.CreateFieldIndexCollection{
			CollectionName: name,
			Wait:           &wait,
			FieldName:      field,
			FieldType:      &keyword,
		})
		if err != nil {
			return fmt.Errorf("index %s.%s: %w", name, field, err)
		}
	}
	return nil
}

// Point is one vector with its payload. Payload values may be strings,
// ints, floats or bools.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]interface{}
}

// Upsert inserts or updates points in one request.
func (c *Client) Upsert(ctx context.Context, collection string, points ...Point) error {
	if len(points) == 0 {
		return nil
	}
	structs := make([]*pb.PointStruct, 0, len(points))
	for _, p := range points {
		payload := make(map[string]*pb.Value, len(p.Payload))
		for k, v := range p.Payload {
			val, err := toValue(v)
			if err != nil {
				return fmt.Errorf("point %s field %s: %w", p.ID, k, err)
			}
			payload[k] = val
		}
		structs = append(structs, &pb.PointStruct{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: p.ID}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: p.Vector}}},
			Payload: payload,
		})
	}
	wait := true
	if _, err := c.points.Upsert(ctx, &pb.UpsertPoints{CollectionName: collection, Wait: &wait, Points: structs}); err != nil {
		return fmt.Errorf("upsert %d points into %s: %w", len(points), collection, err)
	}
	return nil
}

// Search performs a nearest-neighbour search restricted to points whose
// payload matches every key in filter, and returns the top-K results.
func (c *Client) Search(ctx context.Context, collection string, vector []float32, topK uint64, filter map[string]string) ([]*SearchResult, error) {
	req := &pb.SearchPoints{
		CollectionName: collection,
		Vector:         vector,
		Limit:          topK,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if len(filter) > 0 {
		f := &pb.Filter{}
		for k, v := range filter {
			f.Must = append(f.Must, &pb.Condition{
				ConditionOneOf: &pb.Condition_Field{
					Field: &pb.FieldCondition{
						Key:   k,
						Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: v}},
					},
				},
			})
		}
		req.Filter = f
	}

	resp, err := c.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", collection, err)
	}
	results := make([]*SearchResult, 0, len(resp.Result))
	for _, r := range resp.Result {
		payload := make(map[string]interface{}, len(r.Payload))
		for k, v := range r.Payload {
			payload[k] = fromValue(v)
		}
		results = append(results, &SearchResult{ID: r.Id.GetUuid(), Score: r.Score, Payload: payload})
	}
	return results, nil
}

// SearchResult holds a single vector search hit.
type SearchResult struct {
	ID      string                 `json:"id"`
	Score   float32                `json:"score"`
	Payload map[string]interface{} `json:"payload"`
}

// String returns a string payload field, or "" when absent.
func (r *SearchResult) String(key string) string {
	s, _ := r.Payload[key].(string)
	return s
}

// Int returns an integer payload field, or 0 when absent.
func (r *SearchResult) Int(key string) int {
	n, _ := r.Payload[key].(int64)
	return int(n)
}

// Close tears down the underlying gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func toValue(v interface{}) (*pb.Value, error) {
	switch x := v.(type) {
	case string:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: x}}, nil
	case int:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(x)}}, nil
	case int64:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: x}}, nil
	case float64:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: x}}, nil
	case bool:
		return &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: x}}, nil
	default:
		return nil, fmt.Errorf("unsupported payload type %T", v)
	}
}

func fromValue(v *pb.Value) interface{} {
	switch k := v.GetKind().(type) {
	case *pb.Value_StringValue:
		return k.StringValue
	case *pb.Value_IntegerValue:
		return k.IntegerValue
	case *pb.Value_DoubleValue:
		return k.DoubleValue
	case *pb.Value_BoolValue:
		return k.BoolValue
	default:
		return nil
	}
}
