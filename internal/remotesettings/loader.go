package remotesettings

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/keithlinneman/linnemanlabs-echo/internal/log"
	"github.com/keithlinneman/linnemanlabs-echo/internal/xerrors"
)

// SSMAPI is the subset of the SSM client the loader needs. *ssm.Client
// satisfies it.
type SSMAPI interface {
	GetParametersByPath(ctx context.Context, in *ssm.GetParametersByPathInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersByPathOutput, error)
}

type LoaderOptions struct {
	Logger log.Logger
	Client SSMAPI

	// Path is the parameter hierarchy root, e.g. /app/echo
	Path string
}

type Loader struct {
	client SSMAPI
	path   string
	logger log.Logger
}

func NewLoader(opts LoaderOptions) (*Loader, error) {
	if opts.Client == nil {
		return nil, xerrors.New("remotesettings: SSM client is required")
	}
	path := strings.TrimRight(strings.TrimSpace(opts.Path), "/")
	if !strings.HasPrefix(path, "/") {
		return nil, xerrors.Newf("remotesettings: path %q must start with /", opts.Path)
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	return &Loader{client: opts.Client, path: path, logger: opts.Logger}, nil
}

// Path returns the normalized parameter root.
func (l *Loader) Path() string { return l.path }

// Fetch reads every parameter below the path, recursively and decrypted,
// following pagination.
func (l *Loader) Fetch(ctx context.Context) (*Snapshot, error) {
	p := ssm.NewGetParametersByPathPaginator(l.client, &ssm.GetParametersByPathInput{
		Path:           aws.String(l.path),
		Recursive:      aws.Bool(true),
		WithDecryption: aws.Bool(true),
	})

	values := make(map[string]any)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, xerrors.Wrapf(err, "get SSM parameters by path %s", l.path)
		}
		for _, prm := range page.Parameters {
			if prm.Name == nil || prm.Value == nil {
				continue
			}
			name, ok := SettingName(l.path, *prm.Name)
			if !ok {
				l.logger.Warn(ctx, "skipping parameter with unusable name", "parameter", *prm.Name)
				continue
			}
			if _, dup := values[name]; dup {
				l.logger.Warn(ctx, "parameters map to the same setting, keeping the last",
					"parameter", *prm.Name,
					"setting", name,
				)
			}
			values[name] = parameterValue(prm)
		}
	}
	return NewSnapshot(values), nil
}

// SettingName maps a parameter name below root to an UPPER_SNAKE setting
// name: /app/echo/feature_flag under /app/echo becomes FEATURE_FLAG and
// /app/echo/db/max-conns becomes DB_MAX_CONNS.
func SettingName(root, param string) (string, bool) {
	rel, ok := strings.CutPrefix(param, root+"/")
	if !ok || rel == "" {
		return "", false
	}
	var b strings.Builder
	lastSep := true
	for _, r := range rel {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r - 'a' + 'A')
			lastSep = false
		case (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastSep = false
		default:
			if !lastSep {
				b.WriteByte('_')
				lastSep = true
			}
		}
	}
	name := strings.TrimRight(b.String(), "_")
	if name == "" || (name[0] >= '0' && name[0] <= '9') {
		return "", false
	}
	return name, true
}

func parameterValue(p types.Parameter) any {
	if p.Type == types.ParameterTypeStringList {
		return strings.Split(*p.Value, ",")
	}
	return *p.Value
}
