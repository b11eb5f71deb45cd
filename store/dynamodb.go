package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/sicko7947/agentflow"
)

// DynamoDBStore implements agentflow.Store using a single DynamoDB table
type DynamoDBStore struct {
	client    DynamoDBClient
	tableName string
}

// NewDynamoDBStore creates a new DynamoDB-backed store
func NewDynamoDBStore(client DynamoDBClient, tableName string) *DynamoDBStore {
	return &DynamoDBStore{
		client:    client,
		tableName: tableName,
	}
}

var _ agentflow.Store = (*DynamoDBStore)(nil)

// Workflow operations

func (s *DynamoDBStore) SaveWorkflow(ctx context.Context, wf *agentflow.WorkflowGraph) error {
	wf.UpdatedAt = now()

	item, err := attributevalue.MarshalMap(wf)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow: %w", err)
	}

	item[AttrPK] = &types.AttributeValueMemberS{Value: workflowPK(wf.ID)}
	item[AttrSK] = &types.AttributeValueMemberS{Value: metaSK()}
	item[AttrEntityType] = &types.AttributeValueMemberS{Value: EntityTypeWorkflow}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to save workflow: %w", err)
	}

	return nil
}

func (s *DynamoDBStore) GetWorkflow(ctx context.Context, workflowID string) (*agentflow.WorkflowGraph, error) {
	item, err := s.getMeta(ctx, workflowPK(workflowID))
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}
	if item == nil {
		return nil, fmt.Errorf("workflow %s: %w", workflowID, agentflow.ErrNotFound)
	}

	var wf agentflow.WorkflowGraph
	if err := attributevalue.UnmarshalMap(item, &wf); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow: %w", err)
	}

	return &wf, nil
}

// Task operations

func (s *DynamoDBStore) SaveTask(ctx context.Context, task *agentflow.Task) error {
	task.UpdatedAt = now()

	item, err := attributevalue.MarshalMap(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	item[AttrPK] = &types.AttributeValueMemberS{Value: taskPK(task.ID)}
	item[AttrSK] = &types.AttributeValueMemberS{Value: metaSK()}
	item[AttrEntityType] = &types.AttributeValueMemberS{Value: EntityTypeTask}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}

	return nil
}

func (s *DynamoDBStore) GetTask(ctx context.Context, taskID string) (*agentflow.Task, error) {
	item, err := s.getMeta(ctx, taskPK(taskID))
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	if item == nil {
		return nil, fmt.Errorf("task %s: %w", taskID, agentflow.ErrNotFound)
	}

	var task agentflow.Task
	if err := attributevalue.UnmarshalMap(item, &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}

	return &task, nil
}

func (s *DynamoDBStore) UpdateTaskStatus(ctx context.Context, taskID string, status agentflow.TaskStatus) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			AttrPK: &types.AttributeValueMemberS{Value: taskPK(taskID)},
			AttrSK: &types.AttributeValueMemberS{Value: metaSK()},
		},
		UpdateExpression:    aws.String("SET #status = :status, #updated_at = :updated_at"),
		ConditionExpression: aws.String("attribute_exists(PK)"),
		ExpressionAttributeNames: map[string]string{
			"#status":     AttrStatus,
			"#updated_at": AttrUpdatedAt,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status":     &types.AttributeValueMemberS{Value: status.String()},
			":updated_at": &types.AttributeValueMemberS{Value: now().Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("task %s: %w", taskID, agentflow.ErrNotFound)
		}
		return fmt.Errorf("failed to update task status: %w", err)
	}

	return nil
}

// Execution operations

func (s *DynamoDBStore) CreateExecution(ctx context.Context, exec *agentflow.Execution) error {
	item, err := s.executionItem(exec)
	if err != nil {
		return err
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("execution %s already exists", exec.ID)
		}
		return fmt.Errorf("failed to create execution: %w", err)
	}

	return nil
}

func (s *DynamoDBStore) GetExecution(ctx context.Context, executionID string) (*agentflow.Execution, error) {
	item, err := s.getMeta(ctx, executionPK(executionID))
	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}
	if item == nil {
		return nil, fmt.Errorf("execution %s: %w", executionID, agentflow.ErrNotFound)
	}

	var exec agentflow.Execution
	if err := attributevalue.UnmarshalMap(item, &exec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
	}

	return &exec, nil
}

func (s *DynamoDBStore) UpdateExecution(ctx context.Context, exec *agentflow.Execution) error {
	exec.UpdatedAt = now()

	item, err := s.executionItem(exec)
	if err != nil {
		return err
	}

	// Use transaction for atomic conditional update
	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(s.tableName),
					Item:                item,
					ConditionExpression: aws.String("attribute_exists(PK)"),
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}

	return nil
}

// ListExecutions queries the task index or the workflow index, newest first.
// A filter without task or workflow id cannot be served without a table scan.
func (s *DynamoDBStore) ListExecutions(ctx context.Context, filter agentflow.ExecutionFilter) ([]*agentflow.Execution, error) {
	var indexName, partition string
	switch {
	case filter.TaskID != "":
		indexName, partition = IndexTaskIndex, executionGSI1PK(filter.TaskID)
	case filter.WorkflowID != "":
		indexName, partition = IndexWorkflowIndex, executionGSI2PK(filter.WorkflowID)
	default:
		return nil, fmt.Errorf("listing executions requires a task or workflow filter")
	}

	pkAttr := AttrGSI1PK
	if indexName == IndexWorkflowIndex {
		pkAttr = AttrGSI2PK
	}

	var executions []*agentflow.Execution
	var lastEvaluatedKey map[string]types.AttributeValue

	for {
		queryInput := &dynamodb.QueryInput{
			TableName:              aws.String(s.tableName),
			IndexName:              aws.String(indexName),
			KeyConditionExpression: aws.String(fmt.Sprintf("%s = :pk", pkAttr)),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk": &types.AttributeValueMemberS{Value: partition},
			},
			ScanIndexForward: aws.Bool(false),
		}
		if lastEvaluatedKey != nil {
			queryInput.ExclusiveStartKey = lastEvaluatedKey
		}

		result, err := s.client.Query(ctx, queryInput)
		if err != nil {
			return nil, fmt.Errorf("failed to list executions: %w", err)
		}

		for _, item := range result.Items {
			var exec agentflow.Execution
			if err := attributevalue.UnmarshalMap(item, &exec); err != nil {
				return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
			}
			if !filter.Matches(&exec) {
				continue
			}
			executions = append(executions, &exec)
			if filter.Limit > 0 && len(executions) >= filter.Limit {
				return executions, nil
			}
		}

		if result.LastEvaluatedKey == nil {
			break
		}
		lastEvaluatedKey = result.LastEvaluatedKey
	}

	return executions, nil
}

// Node execution operations

func (s *DynamoDBStore) CreateNodeExecution(ctx context.Context, nodeExec *agentflow.NodeExecution) error {
	return s.putNodeExecution(ctx, nodeExec, "create")
}

func (s *DynamoDBStore) UpdateNodeExecution(ctx context.Context, nodeExec *agentflow.NodeExecution) error {
	return s.putNodeExecution(ctx, nodeExec, "update")
}

func (s *DynamoDBStore) ListNodeExecutions(ctx context.Context, executionID string) ([]*agentflow.NodeExecution, error) {
	var executions []*agentflow.NodeExecution
	var lastEvaluatedKey map[string]types.AttributeValue

	// Paginate through all results
	for {
		queryInput := &dynamodb.QueryInput{
			TableName:              aws.String(s.tableName),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :sk)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk": &types.AttributeValueMemberS{Value: nodeExecutionPK(executionID)},
				":sk": &types.AttributeValueMemberS{Value: nodePrefix()},
			},
		}

		if lastEvaluatedKey != nil {
			queryInput.ExclusiveStartKey = lastEvaluatedKey
		}

		result, err := s.client.Query(ctx, queryInput)
		if err != nil {
			return nil, fmt.Errorf("failed to list node executions: %w", err)
		}

		for _, item := range result.Items {
			var exec agentflow.NodeExecution
			if err := attributevalue.UnmarshalMap(item, &exec); err != nil {
				return nil, fmt.Errorf("failed to unmarshal node execution: %w", err)
			}
			executions = append(executions, &exec)
		}

		// Check if there are more results
		if result.LastEvaluatedKey == nil {
			break
		}
		lastEvaluatedKey = result.LastEvaluatedKey
	}

	return executions, nil
}

func (s *DynamoDBStore) putNodeExecution(ctx context.Context, nodeExec *agentflow.NodeExecution, op string) error {
	item, err := attributevalue.MarshalMap(nodeExec)
	if err != nil {
		return fmt.Errorf("failed to marshal node execution: %w", err)
	}

	item[AttrPK] = &types.AttributeValueMemberS{Value: nodeExecutionPK(nodeExec.ExecutionID)}
	item[AttrSK] = &types.AttributeValueMemberS{Value: nodeExecutionSK(nodeExec.Sequence, nodeExec.NodeID)}
	item[AttrEntityType] = &types.AttributeValueMemberS{Value: EntityTypeNodeExecution}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to %s node execution: %w", op, err)
	}

	return nil
}

func (s *DynamoDBStore) executionItem(exec *agentflow.Execution) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(exec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal execution: %w", err)
	}

	createdAt := exec.CreatedAt.UTC().Format(time.RFC3339Nano)

	item[AttrPK] = &types.AttributeValueMemberS{Value: executionPK(exec.ID)}
	item[AttrSK] = &types.AttributeValueMemberS{Value: metaSK()}
	item[AttrEntityType] = &types.AttributeValueMemberS{Value: EntityTypeExecution}
	item[AttrGSI1PK] = &types.AttributeValueMemberS{Value: executionGSI1PK(exec.TaskID)}
	item[AttrGSI1SK] = &types.AttributeValueMemberS{Value: createdAt}
	item[AttrGSI2PK] = &types.AttributeValueMemberS{Value: executionGSI2PK(exec.WorkflowID)}
	item[AttrGSI2SK] = &types.AttributeValueMemberS{Value: createdAt}

	return item, nil
}

func (s *DynamoDBStore) getMeta(ctx context.Context, pk string) (map[string]types.AttributeValue, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			AttrPK: &types.AttributeValueMemberS{Value: pk},
			AttrSK: &types.AttributeValueMemberS{Value: metaSK()},
		},
	})
	if err != nil {
		return nil, err
	}
	return result.Item, nil
}
