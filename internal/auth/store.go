package auth

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/keithlinneman/linnemanlabs-echo/internal/xerrors"
)

const (
	// MaxUsersFileSize bounds the users file read from disk or S3.
	MaxUsersFileSize = 1 << 20

	// DefaultCacheSize is the number of verified password pairs remembered.
	DefaultCacheSize = 256
)

// ErrInvalidCredentials is returned when a username/password pair or token
// does not match an active user.
var ErrInvalidCredentials = errors.New("invalid credentials")

// S3API is the subset of the S3 client used to fetch the users file.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type userRecord struct {
	ID           int64    `yaml:"id"`
	Username     string   `yaml:"username"`
	PasswordHash string   `yaml:"password_bcrypt"`
	Tokens       []string `yaml:"token_sha256"`
	IsStaff      bool     `yaml:"is_staff"`
	IsSuperuser  bool     `yaml:"is_superuser"`
	Disabled     bool     `yaml:"disabled"`
}

type usersFile struct {
	Users []userRecord `yaml:"users"`
}

type tokenEntry struct {
	digest string
	user   *User
}

// Store holds the users declared in a users file. It is immutable after
// construction and safe for concurrent use.
type Store struct {
	users  map[string]*User
	hashes map[string][]byte
	tokens []tokenEntry

	// sha256(username, password) of pairs that already passed bcrypt
	verified *lru.Cache[string, *User]
}

var (
	dummyOnce sync.Once
	dummyHash []byte
)

// dummy hash compared against when the username is unknown so both paths
// pay the bcrypt cost
func unknownUserHash() []byte {
	dummyOnce.Do(func() {
		dummyHash, _ = bcrypt.GenerateFromPassword([]byte("linnemanlabs-echo/unknown-user"), bcrypt.DefaultCost)
	})
	return dummyHash
}

// ParseStore decodes a YAML users file. Unknown keys, duplicate usernames or
// ids, malformed bcrypt hashes and malformed token digests are rejected.
func ParseStore(data []byte, cacheSize int) (*Store, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	var f usersFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, xerrors.Wrap(err, "decode users file")
	}

	cache, err := lru.New[string, *User](cacheSize)
	if err != nil {
		return nil, xerrors.Wrap(err, "create credential cache")
	}
	s := &Store{
		users:    make(map[string]*User, len(f.Users)),
		hashes:   make(map[string][]byte, len(f.Users)),
		verified: cache,
	}

	var errs []error
	ids := map[int64]string{}
	seen := map[string]bool{}
	for i, rec := range f.Users {
		name := strings.TrimSpace(rec.Username)
		switch {
		case name == "":
			errs = append(errs, xerrors.Newf("users[%d]: username is required", i))
			continue
		case seen[name]:
			errs = append(errs, xerrors.Newf("users[%d]: duplicate username %q", i, name))
			continue
		case rec.ID <= 0:
			errs = append(errs, xerrors.Newf("users[%d] %s: id must be positive", i, name))
			continue
		}
		if other, dup := ids[rec.ID]; dup {
			errs = append(errs, xerrors.Newf("users[%d] %s: id %d already used by %s", i, name, rec.ID, other))
			continue
		}
		ids[rec.ID] = name
		seen[name] = true

		u := &User{ID: rec.ID, Username: name, IsStaff: rec.IsStaff, IsSuperuser: rec.IsSuperuser}
		if rec.Disabled {
			continue
		}
		s.users[name] = u

		if rec.PasswordHash != "" {
			if _, err := bcrypt.Cost([]byte(rec.PasswordHash)); err != nil {
				errs = append(errs, xerrors.Wrapf(err, "users[%d] %s: password_bcrypt", i, name))
				continue
			}
			s.hashes[name] = []byte(rec.PasswordHash)
		}
		for _, d := range rec.Tokens {
			d = strings.ToLower(strings.TrimSpace(d))
			if !validDigest(d) {
				errs = append(errs, xerrors.Newf("users[%d] %s: token_sha256 must be 64 hex characters", i, name))
				continue
			}
			s.tokens = append(s.tokens, tokenEntry{digest: d, user: u})
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return s, nil
}

// LoadStore reads the users file from a local path or an s3://bucket/key URL.
func LoadStore(ctx context.Context, src string, client S3API, cacheSize int) (*Store, error) {
	data, err := readSource(ctx, src, client)
	if err != nil {
		return nil, err
	}
	s, err := ParseStore(data, cacheSize)
	if err != nil {
		return nil, xerrors.Wrapf(err, "users file %s", src)
	}
	return s, nil
}

func readSource(ctx context.Context, src string, client S3API) ([]byte, error) {
	if bucket, key, ok := parseS3URL(src); ok {
		if client == nil {
			return nil, xerrors.Newf("users file %s: no S3 client configured", src)
		}
		out, err := client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return nil, xerrors.Wrapf(err, "get %s", src)
		}
		defer out.Body.Close()
		return readLimited(out.Body, src)
	}

	f, err := os.Open(src)
	if err != nil {
		return nil, xerrors.Wrapf(err, "open users file")
	}
	defer f.Close()
	return readLimited(f, src)
}

func readLimited(r io.Reader, src string) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxUsersFileSize+1))
	if err != nil {
		return nil, xerrors.Wrapf(err, "read %s", src)
	}
	if len(data) > MaxUsersFileSize {
		return nil, xerrors.Newf("%s exceeds size limit (max %d bytes)", src, MaxUsersFileSize)
	}
	return data, nil
}

// IsS3URL reports whether src names an S3 object rather than a local file.
func IsS3URL(src string) bool {
	_, _, ok := parseS3URL(src)
	return ok
}

// parseS3URL splits s3://bucket/key. Both parts must be non-empty.
func parseS3URL(s string) (bucket, key string, ok bool) {
	rest, found := strings.CutPrefix(s, "s3://")
	if !found {
		return "", "", false
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}

// Len returns the number of active users.
func (s *Store) Len() int {
	return len(s.users)
}

// CheckPassword verifies a username/password pair.
func (s *Store) CheckPassword(username, password string) (*User, error) {
	key := TokenDigest(username + "\x00" + password)
	if u, ok := s.verified.Get(key); ok {
		return u, nil
	}

	u := s.users[username]
	hash, hasPassword := s.hashes[username]
	if u == nil || !hasPassword {
		_ = bcrypt.CompareHashAndPassword(unknownUserHash(), []byte(password))
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	s.verified.Add(key, u)
	return u, nil
}

// CheckToken verifies a bearer token against every stored digest.
func (s *Store) CheckToken(token string) (*User, error) {
	d := TokenDigest(token)
	var match *User
	for _, t := range s.tokens {
		if digestEqual(d, t.digest) && match == nil {
			match = t.user
		}
	}
	if match == nil {
		return nil, ErrInvalidCredentials
	}
	return match, nil
}
