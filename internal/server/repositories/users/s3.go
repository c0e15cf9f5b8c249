package users

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/dmitrijs2005/clusterapi/internal/common"
	"github.com/dmitrijs2005/clusterapi/internal/server/models"
)

const (
	s3UserPrefix  = "users/by-id/"
	s3EmailPrefix = "users/by-email/"
	s3DocSuffix   = ".json"
)

// ObjectAPI is the part of *s3.Client the document store uses.
type ObjectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Repository treats a bucket as a document store. Every user is one JSON
// object; an email index object holding the owner id is claimed with a
// conditional put (If-None-Match: *) so two users never share an email.
type S3Repository struct {
	api    ObjectAPI
	bucket string
}

func NewS3Repository(api ObjectAPI, bucket string) *S3Repository {
	return &S3Repository{api: api, bucket: bucket}
}

func userObjectKey(id string) string {
	return s3UserPrefix + id + s3DocSuffix
}

func emailObjectKey(email string) string {
	sum := sha256.Sum256([]byte(email))
	return s3EmailPrefix + hex.EncodeToString(sum[:])
}

func isS3NotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

func isS3PreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return true
		}
	}
	return false
}

func (r *S3Repository) get(ctx context.Context, key string) ([]byte, error) {
	out, err := r.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("s3 error: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3 read: %w", err)
	}
	return data, nil
}

func (r *S3Repository) put(ctx context.Context, key string, body []byte, ifNoneMatch bool) error {
	in := &s3.PutObjectInput{
		Bucket:      aws.String(r.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	}
	if ifNoneMatch {
		in.IfNoneMatch = aws.String("*")
	}
	_, err := r.api.PutObject(ctx, in)
	return err
}

func (r *S3Repository) remove(ctx context.Context, key string) error {
	_, err := r.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isS3NotFound(err) {
		return fmt.Errorf("s3 error: %w", err)
	}
	return nil
}

func (r *S3Repository) FindByID(ctx context.Context, id string) (*models.User, error) {
	raw, err := r.get(ctx, userObjectKey(id))
	if err != nil {
		return nil, err
	}
	u, err := decodeUser(raw)
	if err != nil {
		return nil, fmt.Errorf("s3 decode: %w", err)
	}
	return u, nil
}

func (r *S3Repository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	owner, err := r.get(ctx, emailObjectKey(email))
	if err != nil {
		return nil, err
	}
	u, err := r.FindByID(ctx, string(owner))
	if err != nil {
		return nil, err
	}
	// a stale index left by an interrupted email change
	if u.Email != email {
		return nil, common.ErrorNotFound
	}
	return u, nil
}

// claimEmail takes the email index for id, or reports who holds it.
func (r *S3Repository) claimEmail(ctx context.Context, email, id string) error {
	key := emailObjectKey(email)
	err := r.put(ctx, key, []byte(id), true)
	if err == nil {
		return nil
	}
	if !isS3PreconditionFailed(err) {
		return fmt.Errorf("s3 error: %w", err)
	}

	owner, err := r.get(ctx, key)
	if err != nil {
		return err
	}
	if string(owner) == id {
		return nil
	}

	// the holder may have moved to another email or been deleted mid-way
	holder, err := r.FindByID(ctx, string(owner))
	switch {
	case errors.Is(err, common.ErrorNotFound):
	case err != nil:
		return err
	case holder.Email == email:
		return common.ErrorAlreadyExists
	}
	if err := r.put(ctx, key, []byte(id), false); err != nil {
		return fmt.Errorf("s3 error: %w", err)
	}
	return nil
}

func (r *S3Repository) Save(ctx context.Context, user *models.User) error {
	prev, err := r.FindByID(ctx, user.ID)
	if err != nil && !errors.Is(err, common.ErrorNotFound) {
		return err
	}

	if err := r.claimEmail(ctx, user.Email, user.ID); err != nil {
		return err
	}

	payload, err := encodeUser(user)
	if err != nil {
		return fmt.Errorf("s3 encode: %w", err)
	}
	if err := r.put(ctx, userObjectKey(user.ID), payload, false); err != nil {
		return fmt.Errorf("s3 error: %w", err)
	}

	if prev != nil && prev.Email != user.Email {
		return r.remove(ctx, emailObjectKey(prev.Email))
	}
	return nil
}

func (r *S3Repository) Delete(ctx context.Context, id string) error {
	u, err := r.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if err := r.remove(ctx, userObjectKey(id)); err != nil {
		return err
	}
	return r.remove(ctx, emailObjectKey(u.Email))
}

func (r *S3Repository) List(ctx context.Context) ([]*models.User, error) {
	list := make([]*models.User, 0)

	p := s3.NewListObjectsV2Paginator(r.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(r.bucket),
		Prefix: aws.String(s3UserPrefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3 error: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if !strings.HasSuffix(key, s3DocSuffix) {
				continue
			}
			id := strings.TrimSuffix(strings.TrimPrefix(key, s3UserPrefix), s3DocSuffix)
			u, err := r.FindByID(ctx, id)
			if errors.Is(err, common.ErrorNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			list = append(list, u)
		}
	}

	sortUsers(list)
	return list, nil
}

func (r *S3Repository) Ping(ctx context.Context) error {
	_, err := r.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(r.bucket)})
	return err
}

func (r *S3Repository) Close() error { return nil }
