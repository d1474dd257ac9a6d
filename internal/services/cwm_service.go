package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/jasondsmith72/CWM-MCP/internal/config"
	"github.com/jasondsmith72/CWM-MCP/internal/models"
	"github.com/jasondsmith72/CWM-MCP/internal/pwsh"
)

// ShellRunner abstracts the PowerShell executor so handlers and service tests
// can stub the interpreter.
type ShellRunner interface {
	Run(ctx context.Context, script string, extraEnv []string) (string, error)
}

const systemInfoCacheKey = "system-info"

// connectPreamble authenticates the fresh interpreter process before the
// actual command runs. Credentials are referenced through the process
// environment, never interpolated into the script text, so a failing
// invocation cannot echo them back in its diagnostic output.
const connectPreamble = `$ErrorActionPreference = 'Stop'
Import-Module ConnectWiseManageAPI
Connect-CWM -Server $env:CWM_SERVER -Company $env:CWM_COMPANY -PubKey $env:CWM_PUBKEY -PrivateKey $env:CWM_PRIVATEKEY -ClientID $env:CWM_CLIENTID | Out-Null`

// CWMService runs ConnectWise Manage commands through the PowerShell module.
// It resolves credentials (per-request override, then the pre-staged bundle,
// then ambient configuration), bootstraps the session and post-processes the
// interpreter's JSON output.
type CWMService struct {
	executor ShellRunner
	cfg      *config.Config

	mu     sync.RWMutex
	bundle models.Credentials

	infoCache *cache.Cache
}

// NewCWMService creates the service and loads the pre-staged credential
// bundle if one exists.
func NewCWMService(executor ShellRunner, cfg *config.Config) *CWMService {
	s := &CWMService{
		executor:  executor,
		cfg:       cfg,
		infoCache: cache.New(cfg.SystemInfoTTL, 5*time.Minute),
	}

	if creds, err := config.LoadCredentialBundle(cfg.CredentialBundlePath); err == nil {
		s.bundle = creds
		log.Printf("🔑 Loaded credential bundle from %s", cfg.CredentialBundlePath)
	}

	return s
}

// ReloadBundle re-reads the pre-staged credential bundle. The file watcher in
// main calls this when the bundle changes on disk.
func (s *CWMService) ReloadBundle() error {
	creds, err := config.LoadCredentialBundle(s.cfg.CredentialBundlePath)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.bundle = creds
	s.mu.Unlock()
	return nil
}

// resolveCredentials merges per-request overrides with the bundle and the
// ambient configuration, in that order, and verifies every field is present.
func (s *CWMService) resolveCredentials(overrides models.Credentials) (models.Credentials, error) {
	s.mu.RLock()
	bundle := s.bundle
	s.mu.RUnlock()

	creds := overrides.Merge(bundle).Merge(s.cfg.CWM)

	for _, f := range []struct {
		name  string
		value string
	}{
		{"server", creds.Server},
		{"company", creds.Company},
		{"pubKey", creds.PubKey},
		{"privateKey", creds.PrivateKey},
		{"clientId", creds.ClientID},
	} {
		if f.value == "" {
			return models.Credentials{}, pwsh.NewError(pwsh.KindMissingCredential,
				"missing credential %q: not supplied in request and not configured", f.name)
		}
	}

	return creds, nil
}

func credentialEnv(creds models.Credentials) []string {
	return []string{
		"CWM_SERVER=" + creds.Server,
		"CWM_COMPANY=" + creds.Company,
		"CWM_PUBKEY=" + creds.PubKey,
		"CWM_PRIVATEKEY=" + creds.PrivateKey,
		"CWM_CLIENTID=" + creds.ClientID,
	}
}

// Connect performs an explicit session bootstrap and returns a confirmation
// message. Any interpreter failure surfaces as ConnectionFailed with
// credential values redacted from the diagnostic.
func (s *CWMService) Connect(ctx context.Context, overrides models.Credentials) (string, error) {
	creds, err := s.resolveCredentials(overrides)
	if err != nil {
		return "", err
	}

	script := connectPreamble + "\nWrite-Output 'connected'"
	if _, err := s.executor.Run(ctx, script, credentialEnv(creds)); err != nil {
		if pwsh.IsKind(err, pwsh.KindProcessSpawnFailed) {
			return "", err
		}
		return "", &pwsh.Error{
			Kind:    pwsh.KindConnectionFailed,
			Message: pwsh.Redact(fmt.Sprintf("failed to connect to %s: %v", creds.Server, err), creds.Secrets()),
			Cause:   err,
		}
	}

	return fmt.Sprintf("Connected to ConnectWise Manage at %s", creds.Server), nil
}

// RunCommand executes a named ConnectWise command with the given parameters
// and returns the parsed JSON result. The session is bootstrapped inside the
// same interpreter process; module state does not survive between spawns.
func (s *CWMService) RunCommand(ctx context.Context, command string, params []pwsh.Param) (any, error) {
	creds, err := s.resolveCredentials(models.Credentials{})
	if err != nil {
		return nil, err
	}

	script := fmt.Sprintf("%s\n%s | ConvertTo-Json -Depth 10 -Compress",
		connectPreamble, pwsh.Command(command, params))

	output, err := s.executor.Run(ctx, script, credentialEnv(creds))
	if err != nil {
		if perr, ok := err.(*pwsh.Error); ok {
			perr.Message = pwsh.Redact(perr.Message, creds.Secrets())
		}
		return nil, err
	}

	return pwsh.ParseJSON(output)
}

// GetSystemInfo runs Get-CWMSystemInfo. The result is static per server, so
// it is cached briefly to keep dashboard polling from spawning interpreters.
func (s *CWMService) GetSystemInfo(ctx context.Context) (any, error) {
	if cached, found := s.infoCache.Get(systemInfoCacheKey); found {
		return cached, nil
	}

	result, err := s.RunCommand(ctx, "Get-CWMSystemInfo", nil)
	if err != nil {
		return nil, err
	}

	s.infoCache.Set(systemInfoCacheKey, result, cache.DefaultExpiration)
	return result, nil
}

// GetCompanies runs Get-CWMCompany with an optional condition filter.
func (s *CWMService) GetCompanies(ctx context.Context, conditions string) (any, error) {
	return s.RunCommand(ctx, "Get-CWMCompany", conditionParams(conditions))
}

// GetTickets runs Get-CWMTicket with an optional condition filter.
func (s *CWMService) GetTickets(ctx context.Context, conditions string) (any, error) {
	return s.RunCommand(ctx, "Get-CWMTicket", conditionParams(conditions))
}

func conditionParams(conditions string) []pwsh.Param {
	if conditions == "" {
		return nil
	}
	return []pwsh.Param{{Name: "Condition", Value: conditions}}
}

// IsSessionLoss reports whether a command failure looks like a dropped
// external session rather than a bad query. Callers revert the context to
// not-connected so the next operation bootstraps again.
func IsSessionLoss(err error) bool {
	if !pwsh.IsKind(err, pwsh.KindExternalCommandFailed) {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not connected") ||
		strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "authentication") ||
		strings.Contains(msg, "connect-cwm")
}
