package grpc

import (
	"context"
	"errors"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/jupiterclapton/cenackle/services/social-service/internal/core/domain"
	"github.com/jupiterclapton/cenackle/services/social-service/internal/core/ports"
)

const ServiceName = "social.v1.SocialService"

// SocialServiceServer : contrat exposé aux autres services (api-gateway)
type SocialServiceServer interface {
	CreatePost(context.Context, *CreatePostRequest) (*PostResponse, error)
	UpdatePost(context.Context, *UpdatePostRequest) (*PostResponse, error)
	DeletePost(context.Context, *DeletePostRequest) (*Empty, error)
	GetPost(context.Context, *GetPostRequest) (*PostResponse, error)
	GetFeed(context.Context, *GetFeedRequest) (*GetFeedResponse, error)
	AddFriend(context.Context, *AddFriendRequest) (*FriendshipResponse, error)
	EndFriendship(context.Context, *EndFriendshipRequest) (*FriendshipResponse, error)
	GetRelationship(context.Context, *GetRelationshipRequest) (*RelationshipResponse, error)
	GetFollowers(context.Context, *GetFollowersRequest) (*GetFollowersResponse, error)
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SocialServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("CreatePost", SocialServiceServer.CreatePost),
		unary("UpdatePost", SocialServiceServer.UpdatePost),
		unary("DeletePost", SocialServiceServer.DeletePost),
		unary("GetPost", SocialServiceServer.GetPost),
		unary("GetFeed", SocialServiceServer.GetFeed),
		unary("AddFriend", SocialServiceServer.AddFriend),
		unary("EndFriendship", SocialServiceServer.EndFriendship),
		unary("GetRelationship", SocialServiceServer.GetRelationship),
		unary("GetFollowers", SocialServiceServer.GetFollowers),
	},
	Streams: []grpc.StreamDesc{},
}

// unary construit le handler qu'aurait généré protoc-gen-go-grpc
func unary[Req, Resp any](method string, call func(SocialServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(SocialServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(SocialServiceServer), ctx, req.(*Req))
			})
		},
	}
}

type Server struct {
	feed      ports.FeedService
	relations ports.RelationshipService
}

var _ SocialServiceServer = (*Server)(nil)

func NewServer(feed ports.FeedService, relations ports.RelationshipService) *Server {
	return &Server{feed: feed, relations: relations}
}

func (s *Server) Register(grpcServer *grpc.Server) {
	grpcServer.RegisterService(&ServiceDesc, s)
}

// --- POSTS ---

func (s *Server) CreatePost(ctx context.Context, req *CreatePostRequest) (*PostResponse, error) {
	if req.UserID == "" || req.Text == "" {
		return nil, status.Error(codes.InvalidArgument, "user_id and text are required")
	}
	post, err := s.feed.Create(ctx, req.UserID, req.Text)
	if err != nil {
		return nil, toStatus(err, "failed to create post")
	}
	return &PostResponse{Post: mapDomainToPost(post)}, nil
}

func (s *Server) UpdatePost(ctx context.Context, req *UpdatePostRequest) (*PostResponse, error) {
	if req.UserID == "" || req.PostID == "" {
		return nil, status.Error(codes.InvalidArgument, "user_id and post_id are required")
	}
	post, err := s.feed.Update(ctx, req.UserID, req.PostID, req.Text)
	if err != nil {
		return nil, toStatus(err, "failed to update post")
	}
	return &PostResponse{Post: mapDomainToPost(post)}, nil
}

func (s *Server) DeletePost(ctx context.Context, req *DeletePostRequest) (*Empty, error) {
	if req.UserID == "" || req.PostID == "" {
		return nil, status.Error(codes.InvalidArgument, "user_id and post_id are required")
	}
	if err := s.feed.Delete(ctx, req.UserID, req.PostID); err != nil {
		return nil, toStatus(err, "failed to delete post")
	}
	return &Empty{}, nil
}

func (s *Server) GetPost(ctx context.Context, req *GetPostRequest) (*PostResponse, error) {
	if req.PostID == "" {
		return nil, status.Error(codes.InvalidArgument, "post_id is required")
	}
	post, err := s.feed.Get(ctx, req.PostID)
	if err != nil {
		return nil, toStatus(err, "failed to get post")
	}
	return &PostResponse{Post: mapDomainToPost(post)}, nil
}

// --- FEED ---

func (s *Server) GetFeed(ctx context.Context, req *GetFeedRequest) (*GetFeedResponse, error) {
	if req.UserID == "" {
		return nil, status.Error(codes.InvalidArgument, "user_id is required")
	}

	// Defaults et plafond appliqués par FeedRequest.Normalize
	posts, err := s.feed.Feed(ctx, domain.FeedRequest{
		ViewerID: req.UserID,
		Limit:    req.Limit,
		Offset:   req.Offset,
	})
	if err != nil {
		return nil, toStatus(err, "failed to fetch feed")
	}

	out := make([]*Post, len(posts))
	for i, p := range posts {
		out[i] = mapDomainToPost(p)
	}
	return &GetFeedResponse{Posts: out}, nil
}

// --- RELATIONSHIPS ---

func (s *Server) AddFriend(ctx context.Context, req *AddFriendRequest) (*FriendshipResponse, error) {
	if req.UserID == "" || req.OtherID == "" {
		return nil, status.Error(codes.InvalidArgument, "user_id and other_id are required")
	}
	res, err := s.relations.Add(ctx, req.UserID, req.OtherID)
	if err != nil {
		return nil, toStatus(err, "failed to add friend")
	}
	return &FriendshipResponse{Result: res.String()}, nil
}

func (s *Server) EndFriendship(ctx context.Context, req *EndFriendshipRequest) (*FriendshipResponse, error) {
	if req.UserID == "" || req.OtherID == "" {
		return nil, status.Error(codes.InvalidArgument, "user_id and other_id are required")
	}
	res, err := s.relations.End(ctx, req.UserID, req.OtherID, req.Block)
	if err != nil {
		return nil, toStatus(err, "failed to end friendship")
	}
	return &FriendshipResponse{Result: res.String()}, nil
}

func (s *Server) GetRelationship(ctx context.Context, req *GetRelationshipRequest) (*RelationshipResponse, error) {
	if req.UserID == "" || req.OtherID == "" {
		return nil, status.Error(codes.InvalidArgument, "user_id and other_id are required")
	}
	rel, err := s.relations.Get(ctx, req.UserID, req.OtherID)
	if err != nil {
		return nil, toStatus(err, "failed to get relationship")
	}
	return &RelationshipResponse{
		InitiatorID: rel.InitiatorID,
		OtherID:     rel.OtherID,
		Status:      string(rel.Status),
		UpdatedAt:   rel.UpdatedAt,
	}, nil
}

func (s *Server) GetFollowers(ctx context.Context, req *GetFollowersRequest) (*GetFollowersResponse, error) {
	if req.UserID == "" {
		return nil, status.Error(codes.InvalidArgument, "user_id is required")
	}
	ids, err := s.relations.FollowerIDs(ctx, req.UserID)
	if err != nil {
		return nil, toStatus(err, "failed to get followers")
	}
	if ids == nil {
		ids = []string{}
	}
	return &GetFollowersResponse{UserIDs: ids}, nil
}

// toStatus traduit les erreurs du domaine en codes gRPC. Les erreurs internes ne fuient pas.
func toStatus(err error, msg string) error {
	switch {
	case errors.Is(err, domain.ErrInvalidID):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrIllegalState):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrPool):
		slog.Error(msg, "error", err)
		return status.Error(codes.Unavailable, msg)
	default:
		slog.Error(msg, "error", err)
		return status.Error(codes.Internal, msg)
	}
}
