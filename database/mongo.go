package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"murmur/models"
)

// toggleAttempts bounds the add/remove race in ToggleReaction. Each retry
// means another writer flipped the same user between our two guarded
// updates, which needs that user to be clicking concurrently with themself.
const toggleAttempts = 5

var errToggleContention = errors.New("database: reaction toggle kept racing")

// MongoStore implements Store on two collections: posts (comments embedded)
// and push_subscriptions.
type MongoStore struct {
	posts  *mongo.Collection
	subs   *mongo.Collection
	logger *slog.Logger
}

func NewMongoStore(db *mongo.Database, logger *slog.Logger) *MongoStore {
	return &MongoStore{
		posts:  db.Collection(postsCollection),
		subs:   db.Collection(pushCollection),
		logger: logger,
	}
}

func postFilter(orgID, postID string) bson.M {
	return bson.M{"_id": postID, "orgId": orgID}
}

func (s *MongoStore) ListPosts(ctx context.Context, orgID string) ([]models.Post, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	cursor, err := s.posts.Find(ctx, bson.M{"orgId": orgID}, opts)
	if err != nil {
		return nil, fmt.Errorf("find posts: %w", err)
	}
	defer cursor.Close(ctx)

	posts := []models.Post{}
	if err := cursor.All(ctx, &posts); err != nil {
		return nil, fmt.Errorf("decode posts: %w", err)
	}
	return posts, nil
}

func (s *MongoStore) GetPost(ctx context.Context, orgID, postID string) (models.Post, error) {
	var post models.Post
	err := s.posts.FindOne(ctx, postFilter(orgID, postID)).Decode(&post)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Post{}, ErrNotFound
	}
	if err != nil {
		return models.Post{}, fmt.Errorf("find post %s: %w", postID, err)
	}
	return post, nil
}

func (s *MongoStore) CreatePost(ctx context.Context, post models.Post) (models.Post, error) {
	post = preparePost(post)
	if _, err := s.posts.InsertOne(ctx, post); err != nil {
		return models.Post{}, fmt.Errorf("insert post: %w", err)
	}
	return post, nil
}

func (s *MongoStore) UpdatePost(ctx context.Context, orgID, postID string, content models.Text, mediaURLs []string, at time.Time) (models.Post, error) {
	if mediaURLs == nil {
		mediaURLs = []string{}
	}
	update := bson.M{"$set": bson.M{"content": content, "mediaUrls": mediaURLs, "updatedAt": at}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var post models.Post
	err := s.posts.FindOneAndUpdate(ctx, postFilter(orgID, postID), update, opts).Decode(&post)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Post{}, ErrNotFound
	}
	if err != nil {
		return models.Post{}, fmt.Errorf("update post %s: %w", postID, err)
	}
	return post, nil
}

func (s *MongoStore) DeletePost(ctx context.Context, orgID, postID string) error {
	res, err := s.posts.DeleteOne(ctx, postFilter(orgID, postID))
	if err != nil {
		return fmt.Errorf("delete post %s: %w", postID, err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) AddComment(ctx context.Context, orgID, postID string, comment models.Comment) (models.Comment, error) {
	comment = prepareComment(comment)
	res, err := s.posts.UpdateOne(ctx, postFilter(orgID, postID), bson.M{"$push": bson.M{"comments": comment}})
	if err != nil {
		return models.Comment{}, fmt.Errorf("add comment to %s: %w", postID, err)
	}
	if res.MatchedCount == 0 {
		return models.Comment{}, ErrNotFound
	}
	return comment, nil
}

func (s *MongoStore) UpdateComment(ctx context.Context, orgID, postID, commentID string, text models.Text, at time.Time) (models.Comment, error) {
	filter := postFilter(orgID, postID)
	filter["comments.id"] = commentID
	update := bson.M{"$set": bson.M{"comments.$.text": text, "comments.$.updatedAt": at}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var post models.Post
	err := s.posts.FindOneAndUpdate(ctx, filter, update, opts).Decode(&post)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Comment{}, ErrNotFound
	}
	if err != nil {
		return models.Comment{}, fmt.Errorf("update comment %s: %w", commentID, err)
	}
	return commentOf(post, commentID)
}

func (s *MongoStore) DeleteComment(ctx context.Context, orgID, postID, commentID string) error {
	filter := postFilter(orgID, postID)
	filter["comments.id"] = commentID
	res, err := s.posts.UpdateOne(ctx, filter, bson.M{"$pull": bson.M{"comments": bson.M{"id": commentID}}})
	if err != nil {
		return fmt.Errorf("delete comment %s: %w", commentID, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// ToggleReaction never reads then writes. It first tries an add guarded by
// "user not in set"; if that matches nothing it tries a remove guarded by
// "user in set". Each is a single-document atomic update, so concurrent
// toggles by different users never overwrite each other. When both guards
// miss, someone flipped the same user in between and we go around again.
func (s *MongoStore) ToggleReaction(ctx context.Context, orgID, postID, commentID string, t models.ReactionType, userID string) (models.Reactions, error) {
	field := "reactions." + string(t)
	prefix := field
	if commentID != "" {
		prefix = "comments.$." + field
	}
	users, count := prefix+".users", prefix+".count"

	guard := func(present bool) bson.M {
		var member any = bson.M{"$ne": userID}
		if present {
			member = userID
		}
		filter := postFilter(orgID, postID)
		if commentID == "" {
			filter[field+".users"] = member
		} else {
			filter["comments"] = bson.M{"$elemMatch": bson.M{"id": commentID, field + ".users": member}}
		}
		return filter
	}
	add := bson.M{"$addToSet": bson.M{users: userID}, "$inc": bson.M{count: 1}}
	remove := bson.M{"$pull": bson.M{users: userID}, "$inc": bson.M{count: -1}}

	for attempt := 0; attempt < toggleAttempts; attempt++ {
		post, ok, err := s.applyToggle(ctx, guard(false), add)
		if err != nil {
			return nil, err
		}
		if !ok {
			post, ok, err = s.applyToggle(ctx, guard(true), remove)
			if err != nil {
				return nil, err
			}
		}
		if ok {
			if commentID == "" {
				return post.Reactions.Snapshot(), nil
			}
			c, err := commentOf(post, commentID)
			if err != nil {
				return nil, err
			}
			return c.Reactions.Snapshot(), nil
		}

		if err := s.entityExists(ctx, orgID, postID, commentID); err != nil {
			return nil, err
		}
		s.logger.Debug("reaction toggle raced, retrying", "post", postID, "comment", commentID, "attempt", attempt+1)
	}
	return nil, errToggleContention
}

func (s *MongoStore) applyToggle(ctx context.Context, filter, update bson.M) (models.Post, bool, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var post models.Post
	err := s.posts.FindOneAndUpdate(ctx, filter, update, opts).Decode(&post)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Post{}, false, nil
	}
	if err != nil {
		return models.Post{}, false, fmt.Errorf("toggle reaction: %w", err)
	}
	return post, true, nil
}

func (s *MongoStore) entityExists(ctx context.Context, orgID, postID, commentID string) error {
	filter := postFilter(orgID, postID)
	if commentID != "" {
		filter["comments.id"] = commentID
	}
	n, err := s.posts.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return fmt.Errorf("count posts: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) SavePushSubscription(ctx context.Context, sub models.PushSubscription) error {
	_, err := s.subs.UpdateOne(ctx,
		bson.M{"userId": sub.UserID},
		bson.M{"$set": sub},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("save push subscription: %w", err)
	}
	return nil
}

func (s *MongoStore) GetPushSubscription(ctx context.Context, userID string) (models.PushSubscription, error) {
	var sub models.PushSubscription
	err := s.subs.FindOne(ctx, bson.M{"userId": userID}).Decode(&sub)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.PushSubscription{}, ErrNotFound
	}
	if err != nil {
		return models.PushSubscription{}, fmt.Errorf("find push subscription: %w", err)
	}
	return sub, nil
}

func (s *MongoStore) DeletePushSubscription(ctx context.Context, userID string) error {
	if _, err := s.subs.DeleteOne(ctx, bson.M{"userId": userID}); err != nil {
		return fmt.Errorf("delete push subscription: %w", err)
	}
	return nil
}

func commentOf(post models.Post, commentID string) (models.Comment, error) {
	i := post.CommentIndex(commentID)
	if i < 0 {
		return models.Comment{}, ErrNotFound
	}
	return post.Comments[i], nil
}
