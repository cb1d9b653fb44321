package semantic

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/proto"

	"github.com/WessleyAI/issuescope/engine/domain"
	"github.com/WessleyAI/issuescope/engine/projection"
)

const scrollPage = 256

// PointsAPI is the subset of pb.PointsClient the store uses.
type PointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Get(ctx context.Context, in *pb.GetPoints, opts ...grpc.CallOption) (*pb.GetResponse, error)
	Scroll(ctx context.Context, in *pb.ScrollPoints, opts ...grpc.CallOption) (*pb.ScrollResponse, error)
	CreateFieldIndex(ctx context.Context, in *pb.CreateFieldIndexCollection, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Query(ctx context.Context, in *pb.QueryPoints, opts ...grpc.CallOption) (*pb.QueryResponse, error)
}

// CollectionsAPI is the subset of pb.CollectionsClient the store uses.
type CollectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// Options configures the gRPC connection.
type Options struct {
	APIKey string // sent as the api-key metadata header
	TLS    bool
}

// VectorStore is the sole owner of all Qdrant operations.
type VectorStore struct {
	conn        *grpc.ClientConn
	points      PointsAPI
	collections CollectionsAPI
	collection  string
}

// New creates a VectorStore connected to Qdrant at the given gRPC address.
func New(addr, collection string, opts Options) (*VectorStore, error) {
	creds := insecure.NewCredentials()
	if opts.TLS {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	dial := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
	if opts.APIKey != "" {
		dial = append(dial, grpc.WithUnaryInterceptor(apiKeyInterceptor(opts.APIKey)))
	}
	conn, err := grpc.NewClient(addr, dial...)
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	vs := NewWithClients(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), collection)
	vs.conn = conn
	return vs, nil
}

// NewWithClients builds a store over existing clients.
func NewWithClients(points PointsAPI, collections CollectionsAPI, collection string) *VectorStore {
	return &VectorStore{points: points, collections: collections, collection: collection}
}

func apiKeyInterceptor(key string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		return invoker(metadata.AppendToOutgoingContext(ctx, "api-key", key), method, req, reply, cc, opts...)
	}
}

// Close closes the underlying gRPC connection, if the store owns one.
func (v *VectorStore) Close() error {
	if v.conn == nil {
		return nil
	}
	return v.conn.Close()
}

// Collection returns the collection name.
func (v *VectorStore) Collection() string { return v.collection }

// PointID is the deterministic point id for an issue.
func PointID(issueID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("issuescope:issue:"+issueID)).String()
}

// EnsureCollection creates the collection if it does not exist yet: a named
// cosine vector for embeddings and one IDF-weighted sparse vector per
// searchable field for BM25.
func (v *VectorStore) EnsureCollection(ctx context.Context, dims int) error {
	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("semantic: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == v.collection {
			return nil
		}
	}

	sparse := make(map[string]*pb.SparseVectorParams, len(SearchFields))
	for _, f := range SearchFields {
		sparse[SparseName(f)] = &pb.SparseVectorParams{Modifier: pb.Modifier_Idf.Enum()}
	}
	_, err = v.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: v.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_ParamsMap{
				ParamsMap: &pb.VectorParamsMap{Map: map[string]*pb.VectorParams{
					VectorName: {Size: uint64(dims), Distance: pb.Distance_Cosine},
				}},
			},
		},
		SparseVectorsConfig: &pb.SparseVectorConfig{Map: sparse},
	})
	if err != nil {
		return fmt.Errorf("semantic: create collection %s: %w", v.collection, err)
	}

	_, err = v.points.CreateFieldIndex(ctx, &pb.CreateFieldIndexCollection{
		CollectionName: v.collection,
		Wait:           proto.Bool(true),
		FieldName:      "issue_id",
		FieldType:      pb.FieldType_FieldTypeKeyword.Enum(),
	})
	if err != nil {
		return fmt.Errorf("semantic: index %s.issue_id: %w", v.collection, err)
	}
	return nil
}

// Ping checks that Qdrant answers.
func (v *VectorStore) Ping(ctx context.Context) error {
	if _, err := v.collections.List(ctx, &pb.ListCollectionsRequest{}); err != nil {
		return fmt.Errorf("semantic: ping: %w", err)
	}
	return nil
}

// DeleteCollection deletes the collection.
func (v *VectorStore) DeleteCollection(ctx context.Context) error {
	_, err := v.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: v.collection})
	if err != nil {
		return fmt.Errorf("semantic: delete collection %s: %w", v.collection, err)
	}
	return nil
}

// UpsertIssues stores issues under their deterministic point ids. Non-empty
// search fields are sent as documents Qdrant turns into BM25 sparse vectors.
func (v *VectorStore) UpsertIssues(ctx context.Context, items []IssuePoint) error {
	if len(items) == 0 {
		return nil
	}
	points := make([]*pb.PointStruct, len(items))
	for i, it := range items {
		vectors := map[string]*pb.Vector{VectorName: pb.NewVectorDense(it.Embedding)}
		for f, text := range searchText(it.Issue) {
			if strings.TrimSpace(text) != "" {
				vectors[SparseName(f)] = pb.NewVectorDocument(&pb.Document{Text: text, Model: BM25Model})
			}
		}
		points[i] = &pb.PointStruct{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(it.Issue.IssueID)}},
			Vectors: pb.NewVectorsMap(vectors),
			Payload: issuePayload(it.Issue),
		}
	}
	_, err := v.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: v.collection,
		Wait:           proto.Bool(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("semantic: upsert %d points: %w", len(items), err)
	}
	return nil
}

// FetchAll pages through the whole collection and returns each point's payload
// and default vector in scroll order.
func (v *VectorStore) FetchAll(ctx context.Context) ([]projection.Entry, error) {
	var out []projection.Entry
	err := v.scroll(ctx, nil, true, func(p *pb.RetrievedPoint) {
		vectors := map[string]any{}
		if vec := pointVector(p); vec != nil {
			vectors[projection.DefaultVectorName] = vec
		}
		out = append(out, projection.Entry{Properties: properties(p.GetPayload()), Vectors: vectors})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// scroll walks every point matching filter.
func (v *VectorStore) scroll(ctx context.Context, filter *pb.Filter, withVectors bool, visit func(*pb.RetrievedPoint)) error {
	var offset *pb.PointId
	for {
		resp, err := v.points.Scroll(ctx, &pb.ScrollPoints{
			CollectionName: v.collection,
			Filter:         filter,
			Offset:         offset,
			Limit:          proto.Uint32(scrollPage),
			WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
			WithVectors:    &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: withVectors}},
		})
		if err != nil {
			return fmt.Errorf("semantic: scroll %s: %w", v.collection, err)
		}
		for _, p := range resp.GetResult() {
			visit(p)
		}
		offset = resp.GetNextPageOffset()
		if offset == nil {
			return nil
		}
	}
}

// FindIssue loads one issue by its issue_id. A missing issue yields a
// domain.NotFoundError.
func (v *VectorStore) FindIssue(ctx context.Context, issueID string) (domain.Issue, error) {
	resp, err := v.points.Get(ctx, &pb.GetPoints{
		CollectionName: v.collection,
		Ids:            []*pb.PointId{{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(issueID)}}},
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return domain.Issue{}, fmt.Errorf("semantic: get issue %s: %w", issueID, err)
	}
	if len(resp.GetResult()) == 0 {
		return domain.Issue{}, &domain.NotFoundError{Entity: "issue", ID: issueID}
	}
	return issueFromPayload(resp.GetResult()[0].GetPayload()), nil
}
