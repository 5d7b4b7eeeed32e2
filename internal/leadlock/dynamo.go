package leadlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	// DynamoDB caps transactions at 100 items and batch writes at 25.
	maxTransactItems = 100
	maxBatchWrite    = 25
	maxTxAttempts    = 5
)

// DynamoAPI is the subset of the DynamoDB client the lock store uses.
type DynamoAPI interface {
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, opts ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// DynamoRepository keeps locks in a DynamoDB table keyed by "lockKey".
// Batches up to 100 keys are acquired in one conditional transaction.
// Larger batches are split and are atomic per chunk only.
type DynamoRepository struct {
	db    DynamoAPI
	table string
}

// NewDynamoClient builds a client the way the rest of the service expects:
// region from config, optional endpoint override for local DynamoDB.
func NewDynamoClient(ctx context.Context, region, endpoint string) (*dynamodb.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

func NewDynamoRepository(db DynamoAPI, table string) *DynamoRepository {
	return &DynamoRepository{db: db, table: table}
}

// TryLock acquires chunk by chunk. When a chunk fails, keys taken by the
// earlier chunks are released to error before the error is returned.
func (r *DynamoRepository) TryLock(ctx context.Context, locks []Lock) (map[string]bool, error) {
	acquired := make(map[string]bool, len(locks))
	var taken []Lock
	for start := 0; start < len(locks); start += maxTransactItems {
		end := min(start+maxTransactItems, len(locks))
		got, err := r.tryLockChunk(ctx, locks[start:end])
		if err != nil {
			return nil, rollback(ctx, r, taken, err)
		}
		for _, l := range locks[start:end] {
			if got[l.Key] {
				acquired[l.Key] = true
				taken = append(taken, l)
			}
		}
	}
	return acquired, nil
}

// tryLockChunk writes every candidate under the condition "absent or error".
// When the transaction is cancelled, keys whose condition failed are dropped
// and the rest are retried; they are held by someone else.
func (r *DynamoRepository) tryLockChunk(ctx context.Context, locks []Lock) (map[string]bool, error) {
	pending := append([]Lock(nil), locks...)

	for attempt := 0; attempt < maxTxAttempts && len(pending) > 0; attempt++ {
		items := make([]types.TransactWriteItem, 0, len(pending))
		for _, l := range pending {
			l.Status = StatusQueued
			item, err := attributevalue.MarshalMap(l)
			if err != nil {
				return nil, fmt.Errorf("marshal lead lock: %w", err)
			}
			items = append(items, types.TransactWriteItem{
				Put: &types.Put{
					TableName:           aws.String(r.table),
					Item:                item,
					ConditionExpression: aws.String("attribute_not_exists(lockKey) OR #st = :error"),
					ExpressionAttributeNames: map[string]string{
						"#st": "status",
					},
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":error": &types.AttributeValueMemberS{Value: string(StatusError)},
					},
				},
			})
		}

		_, err := r.db.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
		if err == nil {
			acquired := make(map[string]bool, len(pending))
			for _, l := range pending {
				acquired[l.Key] = true
			}
			return acquired, nil
		}

		var tce *types.TransactionCanceledException
		if !errors.As(err, &tce) {
			return nil, fmt.Errorf("transact lead locks: %w", err)
		}
		held := conditionFailures(tce)
		if len(held) == 0 {
			// Cancelled by a conflicting transaction rather than a condition.
			if err := sleepCtx(ctx, time.Duration(attempt+1)*50*time.Millisecond); err != nil {
				return nil, err
			}
			continue
		}
		next := pending[:0]
		for i, l := range pending {
			if !held[i] {
				next = append(next, l)
			}
		}
		pending = next
	}

	if len(pending) > 0 {
		return nil, fmt.Errorf("transact lead locks: gave up after %d attempts", maxTxAttempts)
	}
	return map[string]bool{}, nil
}

// conditionFailures returns the item indexes whose condition check failed.
func conditionFailures(tce *types.TransactionCanceledException) map[int]bool {
	held := make(map[int]bool)
	for i, reason := range tce.CancellationReasons {
		if aws.ToString(reason.Code) == "ConditionalCheckFailed" {
			held[i] = true
		}
	}
	return held
}

func (r *DynamoRepository) SetStatus(ctx context.Context, locks []Lock, status Status) error {
	reqs := make([]types.WriteRequest, 0, len(locks))
	for _, l := range locks {
		l.Status = status
		item, err := attributevalue.MarshalMap(l)
		if err != nil {
			return fmt.Errorf("marshal lead lock: %w", err)
		}
		reqs = append(reqs, types.WriteRequest{PutRequest: &types.PutRequest{Item: item}})
	}
	return r.batchWrite(ctx, reqs)
}

func (r *DynamoRepository) Clear(ctx context.Context, keys []string) error {
	reqs := make([]types.WriteRequest, 0, len(keys))
	for _, k := range keys {
		reqs = append(reqs, types.WriteRequest{DeleteRequest: &types.DeleteRequest{
			Key: map[string]types.AttributeValue{"lockKey": &types.AttributeValueMemberS{Value: k}},
		}})
	}
	return r.batchWrite(ctx, reqs)
}

func (r *DynamoRepository) batchWrite(ctx context.Context, reqs []types.WriteRequest) error {
	for start := 0; start < len(reqs); start += maxBatchWrite {
		end := min(start+maxBatchWrite, len(reqs))
		chunk := reqs[start:end]

		for attempt := 0; len(chunk) > 0; attempt++ {
			if attempt >= maxTxAttempts {
				return fmt.Errorf("batch write lead locks: %d items left unprocessed", len(chunk))
			}
			out, err := r.db.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
				RequestItems: map[string][]types.WriteRequest{r.table: chunk},
			})
			if err != nil {
				return fmt.Errorf("batch write lead locks: %w", err)
			}
			chunk = out.UnprocessedItems[r.table]
			if len(chunk) > 0 {
				if err := sleepCtx(ctx, time.Duration(attempt+1)*50*time.Millisecond); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (r *DynamoRepository) Get(ctx context.Context, key string) (*Lock, error) {
	out, err := r.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.table),
		Key:            map[string]types.AttributeValue{"lockKey": &types.AttributeValueMemberS{Value: key}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get lead lock: %w", err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}
	var l Lock
	if err := attributevalue.UnmarshalMap(out.Item, &l); err != nil {
		return nil, fmt.Errorf("unmarshal lead lock: %w", err)
	}
	return &l, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
