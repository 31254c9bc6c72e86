package ssoapi

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssoadmin"
	ssotypes "github.com/aws/aws-sdk-go-v2/service/ssoadmin/types"
	"github.com/aws/smithy-go"

	"github.com/jklevins/permrevert/internal/models"
)

// DefaultCallTimeout bounds every outbound API call so a hung request
// cannot stall a batch indefinitely.
const DefaultCallTimeout = 60 * time.Second

// Client is the AWS-backed AdminClient, bound to one Identity Center
// instance at construction.
type Client struct {
	api         *ssoadmin.Client
	instanceARN string
	callTimeout time.Duration
}

// NewClient creates a Client using the default AWS credential chain.
func NewClient(ctx context.Context, instanceARN, region string) (*Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &Client{
		api:         ssoadmin.NewFromConfig(cfg),
		instanceARN: instanceARN,
		callTimeout: DefaultCallTimeout,
	}, nil
}

// withTimeout derives a bounded context for a single API call.
func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.callTimeout)
}

// ListAssignments returns the principals bound to a permission set on an account.
func (c *Client) ListAssignments(ctx context.Context, accountID, permissionSetARN string) ([]Assignment, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var assignments []Assignment
	p := ssoadmin.NewListAccountAssignmentsPaginator(c.api, &ssoadmin.ListAccountAssignmentsInput{
		InstanceArn:      aws.String(c.instanceARN),
		AccountId:        aws.String(accountID),
		PermissionSetArn: aws.String(permissionSetARN),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, tagError("list account assignments", err)
		}
		for _, a := range page.AccountAssignments {
			assignments = append(assignments, Assignment{
				PrincipalID:   aws.ToString(a.PrincipalId),
				PrincipalType: models.PrincipalType(a.PrincipalType),
			})
		}
	}
	return assignments, nil
}

// CreateAssignment binds a principal to a permission set on an account.
func (c *Client) CreateAssignment(ctx context.Context, accountID, permissionSetARN, principalID string, principalType models.PrincipalType) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	_, err := c.api.CreateAccountAssignment(ctx, &ssoadmin.CreateAccountAssignmentInput{
		InstanceArn:      aws.String(c.instanceARN),
		TargetId:         aws.String(accountID),
		TargetType:       ssotypes.TargetTypeAwsAccount,
		PermissionSetArn: aws.String(permissionSetARN),
		PrincipalId:      aws.String(principalID),
		PrincipalType:    ssotypes.PrincipalType(principalType),
	})
	if err != nil {
		return tagError("create account assignment", err)
	}
	return nil
}

// DeleteAssignment removes a principal's binding.
func (c *Client) DeleteAssignment(ctx context.Context, accountID, permissionSetARN, principalID string, principalType models.PrincipalType) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	_, err := c.api.DeleteAccountAssignment(ctx, &ssoadmin.DeleteAccountAssignmentInput{
		InstanceArn:      aws.String(c.instanceARN),
		TargetId:         aws.String(accountID),
		TargetType:       ssotypes.TargetTypeAwsAccount,
		PermissionSetArn: aws.String(permissionSetARN),
		PrincipalId:      aws.String(principalID),
		PrincipalType:    ssotypes.PrincipalType(principalType),
	})
	if err != nil {
		return tagError("delete account assignment", err)
	}
	return nil
}

// ListPermissionSets lists permission set ARNs for the instance.
func (c *Client) ListPermissionSets(ctx context.Context) ([]string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var arns []string
	p := ssoadmin.NewListPermissionSetsPaginator(c.api, &ssoadmin.ListPermissionSetsInput{
		InstanceArn: aws.String(c.instanceARN),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, tagError("list permission sets", err)
		}
		arns = append(arns, page.PermissionSets...)
	}
	return arns, nil
}

// tagError converts a structured AWS error into an APIError so the
// classifier can dispatch on the code without SDK type probing.
// Non-API errors (context deadlines, transport failures) pass through.
func tagError(operation string, err error) error {
	var ae smithy.APIError
	if errors.As(err, &ae) {
		return fmt.Errorf("%s: %w", operation, &APIError{
			Code:      ae.ErrorCode(),
			Message:   ae.ErrorMessage(),
			Retryable: ae.ErrorFault() == smithy.FaultServer,
		})
	}
	return fmt.Errorf("%s: %w", operation, err)
}
