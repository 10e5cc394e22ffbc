package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pinmap/pinmap/internal/models"
)

// UserRepository is the durable identity store. Users are keyed by phone
// number; a conditional put makes first-verification races resolve to exactly
// one row. A mirror item keyed by id supports lookup by user id without a GSI.
type UserRepository struct {
	client    *dynamodb.Client
	tableName string
	logger    *logrus.Logger
}

func NewUserRepository(client *dynamodb.Client, tableName string, logger *logrus.Logger) *UserRepository {
	return &UserRepository{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

func (r *UserRepository) GetByPhoneNumber(ctx context.Context, phoneNumber string) (*models.User, error) {
	user := &models.User{PhoneNumber: phoneNumber}

	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: user.GetPK()},
			"SK": &types.AttributeValueMemberS{Value: user.GetSK()},
		},
	})
	if err != nil {
		r.logger.WithError(err).Error("Failed to get user from DynamoDB")
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if result.Item == nil {
		return nil, nil // User not found
	}

	var dbUser models.User
	if err := attributevalue.UnmarshalMap(result.Item, &dbUser); err != nil {
		r.logger.WithError(err).Error("Failed to unmarshal user from DynamoDB")
		return nil, fmt.Errorf("failed to unmarshal user: %w", err)
	}

	return &dbUser, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: "USERID#" + id},
			"SK": &types.AttributeValueMemberS{Value: "METADATA"},
		},
	})
	if err != nil {
		r.logger.WithError(err).Error("Failed to get user id mirror from DynamoDB")
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}

	if result.Item == nil {
		return nil, nil
	}

	var mirror struct {
		PhoneNumber string `dynamodbav:"phone_number"`
	}
	if err := attributevalue.UnmarshalMap(result.Item, &mirror); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user id mirror: %w", err)
	}

	return r.GetByPhoneNumber(ctx, mirror.PhoneNumber)
}

// Create inserts a new user. Returns models.ErrConflict if the phone number
// is already registered.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	user.CreatedAt = time.Now()

	item, err := attributevalue.MarshalMap(user)
	if err != nil {
		r.logger.WithError(err).Error("Failed to marshal user for DynamoDB")
		return fmt.Errorf("failed to marshal user: %w", err)
	}

	item["PK"] = &types.AttributeValueMemberS{Value: user.GetPK()}
	item["SK"] = &types.AttributeValueMemberS{Value: user.GetSK()}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("user %s: %w", user.PhoneNumber, models.ErrConflict)
		}
		r.logger.WithError(err).Error("Failed to create user in DynamoDB")
		return fmt.Errorf("failed to create user: %w", err)
	}

	// Mirror item for id lookups. The phone item is the uniqueness anchor, so
	// this write can be unconditional.
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item: map[string]types.AttributeValue{
			"PK":           &types.AttributeValueMemberS{Value: user.GetIDPK()},
			"SK":           &types.AttributeValueMemberS{Value: "METADATA"},
			"phone_number": &types.AttributeValueMemberS{Value: user.PhoneNumber},
		},
	})
	if err != nil {
		r.logger.WithError(err).Error("Failed to create user id mirror in DynamoDB")
		return fmt.Errorf("failed to create user id mirror: %w", err)
	}

	return nil
}

// GetOrCreate finds the user for phoneNumber, creating it on first
// verification. A lost create race resolves by re-fetching the winner's row.
func (r *UserRepository) GetOrCreate(ctx context.Context, phoneNumber string) (*models.User, error) {
	user, err := r.GetByPhoneNumber(ctx, phoneNumber)
	if err != nil {
		return nil, err
	}
	if user != nil {
		return user, nil
	}

	newUser := &models.User{
		ID:          uuid.New().String(),
		PhoneNumber: phoneNumber,
	}

	if err := r.Create(ctx, newUser); err != nil {
		if errors.Is(err, models.ErrConflict) {
			existing, getErr := r.GetByPhoneNumber(ctx, phoneNumber)
			if getErr != nil {
				return nil, getErr
			}
			if existing == nil {
				return nil, fmt.Errorf("user vanished after conflict: %w", err)
			}
			return existing, nil
		}
		return nil, err
	}

	return newUser, nil
}
