package repository

import (
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"secure-messaging/internal/domain"
)

const (
	pkConvPrefix = "CONV#"
	pkUserPrefix = "USER#"
	pkRefPrefix  = "MSGREF#"
	skMeta       = "META#"
	skRef        = "REF#"
	skPrefixConv = "CONV#"
	skPrefixMsg  = "MSG#"

	inboxIndex = "inbox-activity"
)

// convPK returns the partition key shared by a conversation and its messages.
func convPK(conversationID string) string {
	return pkConvPrefix + conversationID
}

func userPK(userID string) string {
	return pkUserPrefix + userID
}

func refPK(messageID string) string {
	return pkRefPrefix + messageID
}

// msgSK orders messages chronologically within a conversation partition.
func msgSK(createdAt time.Time, messageID string) string {
	return skPrefixMsg + domain.FormatTimeKey(createdAt) + "#" + messageID
}

func key(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

func conversationKey(conversationID string) map[string]types.AttributeValue {
	return key(convPK(conversationID), skMeta)
}

func messageKey(msg domain.Message) map[string]types.AttributeValue {
	return key(convPK(msg.ConversationID), msgSK(msg.CreatedAt, msg.ID))
}

// conversationItem encodes the authoritative conversation record.
func conversationItem(conv domain.Conversation) map[string]types.AttributeValue {
	item := conversationAttrs(conv)
	item["PK"] = &types.AttributeValueMemberS{Value: convPK(conv.ID)}
	item["SK"] = &types.AttributeValueMemberS{Value: skMeta}
	item["entity"] = &types.AttributeValueMemberS{Value: "conversation"}
	return item
}

// inboxItem is the per-participant projection indexed by activity.
func inboxItem(conv domain.Conversation, userID string) map[string]types.AttributeValue {
	item := conversationAttrs(conv)
	item["PK"] = &types.AttributeValueMemberS{Value: userPK(userID)}
	item["SK"] = &types.AttributeValueMemberS{Value: skPrefixConv + conv.ID}
	item["GSI1PK"] = &types.AttributeValueMemberS{Value: userPK(userID)}
	item["GSI1SK"] = &types.AttributeValueMemberS{Value: conv.ActivityKey()}
	item["entity"] = &types.AttributeValueMemberS{Value: "inbox"}
	return item
}

func conversationAttrs(conv domain.Conversation) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"conversationId": &types.AttributeValueMemberS{Value: conv.ID},
		"participantA":   &types.AttributeValueMemberS{Value: conv.ParticipantA},
		"participantB":   &types.AttributeValueMemberS{Value: conv.ParticipantB},
		"isActive":       &types.AttributeValueMemberBOOL{Value: conv.IsActive},
		"handshake":      handshakeAttr(conv.Handshake),
		"createdAt":      timeAttr(conv.CreatedAt),
		"updatedAt":      timeAttr(conv.UpdatedAt),
		"version":        &types.AttributeValueMemberN{Value: strconv.FormatInt(conv.Version, 10)},
	}
	if conv.LastMessageAt != nil {
		item["lastMessageAt"] = timeAttr(*conv.LastMessageAt)
	}
	if conv.LastMessagePreview != nil {
		item["lastMessagePreview"] = &types.AttributeValueMemberS{Value: *conv.LastMessagePreview}
	}
	if conv.LastMessageID != "" {
		item["lastMessageId"] = &types.AttributeValueMemberS{Value: conv.LastMessageID}
	}
	return item
}

func handshakeAttr(h domain.Handshake) types.AttributeValue {
	keys := make(map[string]types.AttributeValue, len(h.PublicKeys))
	for participant, ref := range h.PublicKeys {
		keys[participant] = &types.AttributeValueMemberS{Value: ref}
	}
	m := map[string]types.AttributeValue{
		"publicKeys":           &types.AttributeValueMemberM{Value: keys},
		"algorithm":            &types.AttributeValueMemberS{Value: h.Algorithm},
		"keyVersion":           &types.AttributeValueMemberS{Value: h.KeyVersion},
		"keyExchangeCompleted": &types.AttributeValueMemberBOOL{Value: h.KeyExchangeCompleted},
	}
	if h.CompletedAt != nil {
		m["completedAt"] = timeAttr(*h.CompletedAt)
	}
	return &types.AttributeValueMemberM{Value: m}
}

func itemToConversation(item map[string]types.AttributeValue) (domain.Conversation, error) {
	var conv domain.Conversation
	var err error
	if conv.ID, err = strAttr(item, "conversationId"); err != nil {
		return domain.Conversation{}, err
	}
	if conv.ParticipantA, err = strAttr(item, "participantA"); err != nil {
		return domain.Conversation{}, err
	}
	if conv.ParticipantB, err = strAttr(item, "participantB"); err != nil {
		return domain.Conversation{}, err
	}
	if conv.IsActive, err = boolAttr(item, "isActive"); err != nil {
		return domain.Conversation{}, err
	}
	if conv.CreatedAt, err = timeValue(item, "createdAt"); err != nil {
		return domain.Conversation{}, err
	}
	if conv.UpdatedAt, err = timeValue(item, "updatedAt"); err != nil {
		return domain.Conversation{}, err
	}
	if conv.Version, err = int64Attr(item, "version"); err != nil {
		return domain.Conversation{}, err
	}
	if conv.LastMessageAt, err = optTimeAttr(item, "lastMessageAt"); err != nil {
		return domain.Conversation{}, err
	}
	if preview, ok := item["lastMessagePreview"].(*types.AttributeValueMemberS); ok {
		p := preview.Value
		conv.LastMessagePreview = &p
	}
	conv.LastMessageID, _ = strAttr(item, "lastMessageId") // allow empty
	if conv.Handshake, err = itemToHandshake(item); err != nil {
		return domain.Conversation{}, err
	}
	return conv, nil
}

func itemToHandshake(item map[string]types.AttributeValue) (domain.Handshake, error) {
	h := domain.Handshake{PublicKeys: map[string]string{}}
	raw, ok := item["handshake"]
	if !ok {
		return h, nil
	}
	m, ok := raw.(*types.AttributeValueMemberM)
	if !ok {
		return h, fmt.Errorf("repository: attribute %q is not a map", "handshake")
	}
	if keys, ok := m.Value["publicKeys"].(*types.AttributeValueMemberM); ok {
		for participant, v := range keys.Value {
			if s, ok := v.(*types.AttributeValueMemberS); ok {
				h.PublicKeys[participant] = s.Value
			}
		}
	}
	h.Algorithm, _ = strAttr(m.Value, "algorithm")
	h.KeyVersion, _ = strAttr(m.Value, "keyVersion")
	h.KeyExchangeCompleted, _ = boolAttr(m.Value, "keyExchangeCompleted")
	completedAt, err := optTimeAttr(m.Value, "completedAt")
	if err != nil {
		return h, err
	}
	h.CompletedAt = completedAt
	return h, nil
}

func messageItem(msg domain.Message) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":               &types.AttributeValueMemberS{Value: convPK(msg.ConversationID)},
		"SK":               &types.AttributeValueMemberS{Value: msgSK(msg.CreatedAt, msg.ID)},
		"entity":           &types.AttributeValueMemberS{Value: "message"},
		"messageId":        &types.AttributeValueMemberS{Value: msg.ID},
		"conversationId":   &types.AttributeValueMemberS{Value: msg.ConversationID},
		"senderId":         &types.AttributeValueMemberS{Value: msg.SenderID},
		"recipientId":      &types.AttributeValueMemberS{Value: msg.RecipientID},
		"encryptedContent": &types.AttributeValueMemberB{Value: msg.EncryptedContent},
		"iv":               &types.AttributeValueMemberB{Value: msg.IV},
		"messageHash":      &types.AttributeValueMemberS{Value: msg.MessageHash},
		"status":           &types.AttributeValueMemberS{Value: string(msg.Status)},
		"statusRank":       &types.AttributeValueMemberN{Value: strconv.Itoa(msg.Status.Rank())},
		"metadata":         metadataAttr(msg.Metadata),
		"isDeleted":        &types.AttributeValueMemberBOOL{Value: msg.IsDeleted},
		"createdAt":        timeAttr(msg.CreatedAt),
		"updatedAt":        timeAttr(msg.UpdatedAt),
	}
	if msg.DeliveredAt != nil {
		item["deliveredAt"] = timeAttr(*msg.DeliveredAt)
	}
	if msg.ReadAt != nil {
		item["readAt"] = timeAttr(*msg.ReadAt)
	}
	if msg.DeletedAt != nil {
		item["deletedAt"] = timeAttr(*msg.DeletedAt)
	}
	return item
}

// refItem maps a message id to its position inside the conversation
// partition. It is written once with the message and never changes.
func refItem(msg domain.Message) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: refPK(msg.ID)},
		"SK":             &types.AttributeValueMemberS{Value: skRef},
		"entity":         &types.AttributeValueMemberS{Value: "ref"},
		"conversationId": &types.AttributeValueMemberS{Value: msg.ConversationID},
		"messageSK":      &types.AttributeValueMemberS{Value: msgSK(msg.CreatedAt, msg.ID)},
	}
}

func metadataAttr(md domain.Metadata) types.AttributeValue {
	m := map[string]types.AttributeValue{
		"algorithm":   &types.AttributeValueMemberS{Value: md.Algorithm},
		"keyVersion":  &types.AttributeValueMemberS{Value: md.KeyVersion},
		"kind":        &types.AttributeValueMemberS{Value: string(md.Kind)},
		"previewHint": &types.AttributeValueMemberS{Value: md.PreviewHint},
	}
	if f := md.File; f != nil {
		m["file"] = &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
			"name":     &types.AttributeValueMemberS{Value: f.Name},
			"size":     &types.AttributeValueMemberN{Value: strconv.FormatInt(f.Size, 10)},
			"mimeType": &types.AttributeValueMemberS{Value: f.MimeType},
			"location": &types.AttributeValueMemberS{Value: f.Location},
		}}
	}
	return &types.AttributeValueMemberM{Value: m}
}

func itemToMessage(item map[string]types.AttributeValue) (domain.Message, error) {
	var msg domain.Message
	var err error
	if msg.ID, err = strAttr(item, "messageId"); err != nil {
		return domain.Message{}, err
	}
	if msg.ConversationID, err = strAttr(item, "conversationId"); err != nil {
		return domain.Message{}, err
	}
	if msg.SenderID, err = strAttr(item, "senderId"); err != nil {
		return domain.Message{}, err
	}
	if msg.RecipientID, err = strAttr(item, "recipientId"); err != nil {
		return domain.Message{}, err
	}
	if msg.EncryptedContent, err = bytesAttr(item, "encryptedContent"); err != nil {
		return domain.Message{}, err
	}
	if msg.IV, err = bytesAttr(item, "iv"); err != nil {
		return domain.Message{}, err
	}
	if msg.MessageHash, err = strAttr(item, "messageHash"); err != nil {
		return domain.Message{}, err
	}
	rank, err := int64Attr(item, "statusRank")
	if err != nil {
		return domain.Message{}, err
	}
	status, ok := domain.StatusFromRank(int(rank))
	if !ok {
		return domain.Message{}, fmt.Errorf("repository: unknown status rank %d", rank)
	}
	msg.Status = status
	msg.IsDeleted, _ = boolAttr(item, "isDeleted")
	if msg.CreatedAt, err = timeValue(item, "createdAt"); err != nil {
		return domain.Message{}, err
	}
	if msg.UpdatedAt, err = timeValue(item, "updatedAt"); err != nil {
		return domain.Message{}, err
	}
	if msg.DeliveredAt, err = optTimeAttr(item, "deliveredAt"); err != nil {
		return domain.Message{}, err
	}
	if msg.ReadAt, err = optTimeAttr(item, "readAt"); err != nil {
		return domain.Message{}, err
	}
	if msg.DeletedAt, err = optTimeAttr(item, "deletedAt"); err != nil {
		return domain.Message{}, err
	}
	if md, ok := item["metadata"].(*types.AttributeValueMemberM); ok {
		msg.Metadata, err = itemToMetadata(md.Value)
		if err != nil {
			return domain.Message{}, err
		}
	}
	return msg, nil
}

func itemToMetadata(m map[string]types.AttributeValue) (domain.Metadata, error) {
	var md domain.Metadata
	md.Algorithm, _ = strAttr(m, "algorithm")
	md.KeyVersion, _ = strAttr(m, "keyVersion")
	kind, _ := strAttr(m, "kind")
	md.Kind = domain.Kind(kind)
	md.PreviewHint, _ = strAttr(m, "previewHint")
	if f, ok := m["file"].(*types.AttributeValueMemberM); ok {
		size, err := int64Attr(f.Value, "size")
		if err != nil {
			return domain.Metadata{}, err
		}
		fd := &domain.FileDescriptor{Size: size}
		fd.Name, _ = strAttr(f.Value, "name")
		fd.MimeType, _ = strAttr(f.Value, "mimeType")
		fd.Location, _ = strAttr(f.Value, "location")
		md.File = fd
	}
	return md, nil
}

func timeAttr(t time.Time) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: domain.FormatTimeKey(t)}
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func boolAttr(item map[string]types.AttributeValue, key string) (bool, error) {
	v, ok := item[key]
	if !ok {
		return false, fmt.Errorf("repository: missing attribute %q", key)
	}
	b, ok := v.(*types.AttributeValueMemberBOOL)
	if !ok {
		return false, fmt.Errorf("repository: attribute %q is not a bool", key)
	}
	return b.Value, nil
}

func bytesAttr(item map[string]types.AttributeValue, key string) ([]byte, error) {
	v, ok := item[key]
	if !ok {
		return nil, fmt.Errorf("repository: missing attribute %q", key)
	}
	b, ok := v.(*types.AttributeValueMemberB)
	if !ok {
		return nil, fmt.Errorf("repository: attribute %q is not binary", key)
	}
	return b.Value, nil
}

func int64Attr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

func timeValue(item map[string]types.AttributeValue, key string) (time.Time, error) {
	s, err := strAttr(item, key)
	if err != nil {
		return time.Time{}, err
	}
	t, err := domain.ParseTimeKey(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return t, nil
}

func optTimeAttr(item map[string]types.AttributeValue, key string) (*time.Time, error) {
	if _, ok := item[key]; !ok {
		return nil, nil
	}
	t, err := timeValue(item, key)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
