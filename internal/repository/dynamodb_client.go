package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"secure-messaging/internal/domain"
)

// maxAdvanceAttempts bounds the re-clamp loop in AdvanceMessageStatus.
const maxAdvanceAttempts = 3

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Client stores conversations and messages in a single DynamoDB table.
type Client struct {
	api       dynamodbAPI
	tableName string
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName}, nil
}

// CreateConversation inserts a new conversation and its inbox projections.
// It fails with domain.ErrConflict when the id already exists.
func (c *Client) CreateConversation(ctx context.Context, conv domain.Conversation) (domain.Conversation, error) {
	conv.Version = 1
	items := []types.TransactWriteItem{{
		Put: &types.Put{
			TableName:           aws.String(c.tableName),
			Item:                conversationItem(conv),
			ConditionExpression: aws.String("attribute_not_exists(PK)"),
		},
	}}
	items = append(items, c.inboxPuts(conv)...)

	if _, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items}); err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: CreateConversation: %w", classify(err))
	}
	return conv, nil
}

// GetConversation reads a conversation with strong consistency.
func (c *Client) GetConversation(ctx context.Context, conversationID string) (domain.Conversation, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            conversationKey(conversationID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: GetConversation get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Conversation{}, fmt.Errorf("repository: GetConversation: %w", domain.ErrNotFound)
	}
	conv, err := itemToConversation(out.Item)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: GetConversation unmarshal: %w", err)
	}
	return conv, nil
}

// ListConversations queries the participant's inbox projections by activity,
// newest first.
func (c *Client) ListConversations(ctx context.Context, userID string, q domain.ConversationQuery) ([]domain.Conversation, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		IndexName:              aws.String(inboxIndex),
		KeyConditionExpression: aws.String("GSI1PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: userPK(userID)},
		},
		ScanIndexForward: aws.Bool(false),
	}
	if !q.IncludeInactive {
		in.FilterExpression = aws.String("isActive = :active")
		in.ExpressionAttributeValues[":active"] = &types.AttributeValueMemberBOOL{Value: true}
	}

	items, err := c.collect(ctx, in, q.Page)
	if err != nil {
		return nil, fmt.Errorf("repository: ListConversations query: %w", err)
	}
	convs := make([]domain.Conversation, 0, len(items))
	for _, item := range items {
		conv, err := itemToConversation(item)
		if err != nil {
			return nil, fmt.Errorf("repository: ListConversations unmarshal: %w", err)
		}
		convs = append(convs, conv)
	}
	return convs, nil
}

// UpdateConversation writes conv if the stored version still equals
// conv.Version, and returns the record with its version bumped.
func (c *Client) UpdateConversation(ctx context.Context, conv domain.Conversation) (domain.Conversation, error) {
	next, items := c.conversationWrites(conv)
	if _, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items}); err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: UpdateConversation: %w", classify(err))
	}
	return next, nil
}

// InsertMessage writes a new message, its id reference and the updated
// conversation summary in one transaction guarded by the conversation version.
func (c *Client) InsertMessage(ctx context.Context, msg domain.Message, conv domain.Conversation) (domain.Conversation, error) {
	if msg.ID == "" || msg.ConversationID == "" {
		return domain.Conversation{}, errors.New("repository: InsertMessage: message id and conversation id are required")
	}
	next, convItems := c.conversationWrites(conv)
	items := []types.TransactWriteItem{
		{
			Put: &types.Put{
				TableName:           aws.String(c.tableName),
				Item:                messageItem(msg),
				ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
			},
		},
		{
			Put: &types.Put{
				TableName:           aws.String(c.tableName),
				Item:                refItem(msg),
				ConditionExpression: aws.String("attribute_not_exists(PK)"),
			},
		},
	}
	items = append(items, convItems...)

	// A resent request whose first response was lost must not fail on its
	// own writes, so identical attempts share one idempotency token.
	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems:      items,
		ClientRequestToken: aws.String(insertToken(msg.ID, conv.Version)),
	})
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: InsertMessage: %w", classify(err))
	}
	return next, nil
}

// GetMessage resolves a message id through its reference item.
func (c *Client) GetMessage(ctx context.Context, messageID string) (domain.Message, error) {
	ref, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            key(refPK(messageID), skRef),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Message{}, fmt.Errorf("repository: GetMessage get ref: %w", err)
	}
	if ref == nil || len(ref.Item) == 0 {
		return domain.Message{}, fmt.Errorf("repository: GetMessage: %w", domain.ErrNotFound)
	}
	conversationID, err := strAttr(ref.Item, "conversationId")
	if err != nil {
		return domain.Message{}, fmt.Errorf("repository: GetMessage decode ref: %w", err)
	}
	sk, err := strAttr(ref.Item, "messageSK")
	if err != nil {
		return domain.Message{}, fmt.Errorf("repository: GetMessage decode ref: %w", err)
	}

	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            key(convPK(conversationID), sk),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Message{}, fmt.Errorf("repository: GetMessage get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Message{}, fmt.Errorf("repository: GetMessage: %w", domain.ErrNotFound)
	}
	msg, err := itemToMessage(out.Item)
	if err != nil {
		return domain.Message{}, fmt.Errorf("repository: GetMessage unmarshal: %w", err)
	}
	return msg, nil
}

// AdvanceMessageStatus moves msg to target only if the stored rank is lower.
// A read is additionally conditioned on at not preceding the stored
// deliveredAt; when a concurrent delivery wrote a later time, at is clamped
// to it and the update retried. When a concurrent acknowledgement reached
// target first it returns the stored record and false.
func (c *Client) AdvanceMessageStatus(ctx context.Context, msg domain.Message, target domain.Status, at time.Time) (domain.Message, bool, error) {
	update := "SET #status = :status, statusRank = :rank, updatedAt = :at"
	condition := "attribute_exists(PK) AND statusRank < :rank"
	switch target {
	case domain.StatusDelivered:
		update += ", deliveredAt = :at"
	case domain.StatusRead:
		update += ", readAt = :at, deliveredAt = if_not_exists(deliveredAt, :at)"
		condition += " AND (attribute_not_exists(deliveredAt) OR deliveredAt <= :at)"
	default:
		return domain.Message{}, false, fmt.Errorf("repository: AdvanceMessageStatus: unsupported target %q", target)
	}

	for attempt := 0; attempt < maxAdvanceAttempts; attempt++ {
		out, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:           aws.String(c.tableName),
			Key:                 messageKey(msg),
			UpdateExpression:    aws.String(update),
			ConditionExpression: aws.String(condition),
			ExpressionAttributeNames: map[string]string{
				"#status": "status",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":status": &types.AttributeValueMemberS{Value: string(target)},
				":rank":   &types.AttributeValueMemberN{Value: strconv.Itoa(target.Rank())},
				":at":     timeAttr(at),
			},
			ReturnValues: types.ReturnValueAllNew,
		})
		if err != nil {
			if !errors.Is(classify(err), domain.ErrConflict) {
				return domain.Message{}, false, fmt.Errorf("repository: AdvanceMessageStatus: %w", err)
			}
			current, getErr := c.GetMessage(ctx, msg.ID)
			if getErr != nil {
				return domain.Message{}, false, fmt.Errorf("repository: AdvanceMessageStatus: %w", getErr)
			}
			if current.Status.Rank() >= target.Rank() {
				return current, false, nil
			}
			at = current.TransitionTime(at)
			continue
		}
		if out == nil || len(out.Attributes) == 0 {
			return domain.Message{}, false, errors.New("repository: AdvanceMessageStatus: empty update result")
		}
		updated, err := itemToMessage(out.Attributes)
		if err != nil {
			return domain.Message{}, false, fmt.Errorf("repository: AdvanceMessageStatus unmarshal: %w", err)
		}
		return updated, true, nil
	}
	return domain.Message{}, false, fmt.Errorf("repository: AdvanceMessageStatus: %w", domain.ErrConflict)
}

// SoftDeleteMessage flags msg as deleted and commits conv (carrying any
// recomputed summary) in the same transaction, guarded by its version.
// A message that is already deleted yields domain.ErrConflict.
func (c *Client) SoftDeleteMessage(ctx context.Context, msg domain.Message, deletedAt time.Time, conv domain.Conversation) error {
	_, convItems := c.conversationWrites(conv)
	items := append([]types.TransactWriteItem{{
		Update: &types.Update{
			TableName:           aws.String(c.tableName),
			Key:                 messageKey(msg),
			UpdateExpression:    aws.String("SET isDeleted = :deleted, deletedAt = :at, updatedAt = :at"),
			ConditionExpression: aws.String("attribute_exists(PK) AND isDeleted = :live"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":deleted": &types.AttributeValueMemberBOOL{Value: true},
				":live":    &types.AttributeValueMemberBOOL{Value: false},
				":at":      timeAttr(deletedAt),
			},
		},
	}}, convItems...)

	if _, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items}); err != nil {
		return fmt.Errorf("repository: SoftDeleteMessage: %w", classify(err))
	}
	return nil
}

// ListMessages reads a conversation partition with strong consistency.
func (c *Client) ListMessages(ctx context.Context, conversationID string, q domain.MessageQuery) ([]domain.Message, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: convPK(conversationID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
		},
		ConsistentRead:   aws.Bool(true),
		ScanIndexForward: aws.Bool(!q.Descending),
	}
	if !q.IncludeDeleted {
		in.FilterExpression = aws.String("isDeleted = :live")
		in.ExpressionAttributeValues[":live"] = &types.AttributeValueMemberBOOL{Value: false}
	}

	items, err := c.collect(ctx, in, q.Page)
	if err != nil {
		return nil, fmt.Errorf("repository: ListMessages query: %w", err)
	}
	msgs := make([]domain.Message, 0, len(items))
	for _, item := range items {
		msg, err := itemToMessage(item)
		if err != nil {
			return nil, fmt.Errorf("repository: ListMessages unmarshal: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// collect pages through a query until the requested page is filled or the
// partition is exhausted. Filter expressions are applied after Limit, so the
// loop keeps going on short pages.
func (c *Client) collect(ctx context.Context, in *dynamodb.QueryInput, page domain.Page) ([]map[string]types.AttributeValue, error) {
	page = page.Normalize(domain.DefaultPageLimit, domain.MaxPageLimit)
	want := page.Offset() + page.Limit
	in.Limit = aws.Int32(int32(min(want, math.MaxInt32)))

	var items []map[string]types.AttributeValue
	for {
		out, err := c.api.Query(ctx, in)
		if err != nil {
			return nil, err
		}
		if out == nil {
			break
		}
		items = append(items, out.Items...)
		if len(items) >= want || len(out.LastEvaluatedKey) == 0 {
			break
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}

	if page.Offset() >= len(items) {
		return nil, nil
	}
	items = items[page.Offset():]
	if len(items) > page.Limit {
		items = items[:page.Limit]
	}
	return items, nil
}

// conversationWrites builds the version-guarded put of conv plus its inbox
// projections, and returns conv as it will be stored.
func (c *Client) conversationWrites(conv domain.Conversation) (domain.Conversation, []types.TransactWriteItem) {
	expected := conv.Version
	conv.Version++
	items := []types.TransactWriteItem{{
		Put: &types.Put{
			TableName:           aws.String(c.tableName),
			Item:                conversationItem(conv),
			ConditionExpression: aws.String("version = :expected"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(expected, 10)},
			},
		},
	}}
	return conv, append(items, c.inboxPuts(conv)...)
}

func (c *Client) inboxPuts(conv domain.Conversation) []types.TransactWriteItem {
	items := make([]types.TransactWriteItem, 0, 2)
	for _, participant := range conv.Participants() {
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName: aws.String(c.tableName),
				Item:      inboxItem(conv, participant),
			},
		})
	}
	return items
}

// insertToken derives the TransactWriteItems idempotency token for a message
// insert against a given conversation version. A retry after a version
// conflict carries different writes and therefore gets a different token.
func insertToken(messageID string, expectedVersion int64) string {
	sum := sha256.Sum256([]byte(messageID + "#" + strconv.FormatInt(expectedVersion, 10)))
	return hex.EncodeToString(sum[:16])
}

// classify maps failed conditions and transaction conflicts to
// domain.ErrConflict and leaves every other error untouched.
func classify(err error) error {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return domain.ErrConflict
	}
	var tce *types.TransactionCanceledException
	if errors.As(err, &tce) {
		for _, reason := range tce.CancellationReasons {
			switch aws.ToString(reason.Code) {
			case "ConditionalCheckFailed", "TransactionConflict":
				return domain.ErrConflict
			}
		}
	}
	var tcf *types.TransactionConflictException
	if errors.As(err, &tcf) {
		return domain.ErrConflict
	}
	return err
}
