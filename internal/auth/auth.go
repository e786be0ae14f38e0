// Package auth resolves the Gemini API key and checks it against the service.
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"
)

const (
	// APIKeyEnv holds the API key directly.
	APIKeyEnv = "GEMINI_API_KEY"
	// SSMParamEnv names an SSM SecureString parameter holding the API key.
	SSMParamEnv = "SSM_API_KEY_PARAM"

	credentialDir  = ".gemini-image-chat"
	credentialFile = "credentials.gpg"
)

// Source names where an API key was found.
type Source string

const (
	SourceEnv Source = "env"
	SourceSSM Source = "ssm"
	SourceGPG Source = "gpg"
)

// ParameterGetter is the SSM call used to read the key. *ssm.Client satisfies it.
type ParameterGetter interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// newSSMClient builds an SSM client from the default AWS credential chain.
var newSSMClient = func(ctx context.Context) (ParameterGetter, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return ssm.NewFromConfig(cfg), nil
}

// GetAPIKey retrieves the Gemini API key from available sources.
// Priority order:
//  1. GEMINI_API_KEY environment variable
//  2. SSM Parameter Store, when SSM_API_KEY_PARAM names a parameter
//  3. GPG-encrypted file at ~/.gemini-image-chat/credentials.gpg
//
// The key itself is never logged.
func GetAPIKey(ctx context.Context) (string, Source, error) {
	if key := strings.TrimSpace(os.Getenv(APIKeyEnv)); key != "" {
		log.Debug().Msg("Using API key from environment variable")
		return key, SourceEnv, nil
	}

	var errs []error

	if param := os.Getenv(SSMParamEnv); param != "" {
		key, err := getFromSSM(ctx, param)
		if err == nil {
			log.Debug().Str("param", param).Msg("Using API key from SSM Parameter Store")
			return key, SourceSSM, nil
		}
		log.Warn().Err(err).Str("param", param).Msg("Failed to read API key from SSM")
		errs = append(errs, err)
	}

	key, err := getFromGPG(ctx)
	if err == nil && key != "" {
		log.Debug().Msg("Using API key from GPG encrypted file")
		return key, SourceGPG, nil
	}
	if err != nil {
		errs = append(errs, err)
	}

	return "", "", &ValidationError{
		Type: ErrTypeNoKey,
		Message: fmt.Sprintf("API key not found. Set %s, set %s to an SSM parameter, or store it in ~/%s/%s",
			APIKeyEnv, SSMParamEnv, credentialDir, credentialFile),
		Err: errors.Join(errs...),
	}
}

// getFromSSM reads and decrypts the named parameter.
func getFromSSM(ctx context.Context, param string) (string, error) {
	client, err := newSSMClient(ctx)
	if err != nil {
		return "", err
	}

	start := time.Now()
	result, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(param),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("SSM GetParameter %s: %w", param, err)
	}
	if result.Parameter == nil || strings.TrimSpace(aws.ToString(result.Parameter.Value)) == "" {
		return "", fmt.Errorf("SSM parameter %s is empty", param)
	}

	log.Debug().Str("param", param).Dur("elapsed", time.Since(start)).Msg("API key loaded from SSM")
	return strings.TrimSpace(aws.ToString(result.Parameter.Value)), nil
}

// getFromGPG decrypts the API key from the GPG-encrypted credentials file.
func getFromGPG(ctx context.Context) (string, error) {
	credPath, err := getCredentialPath()
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(credPath); os.IsNotExist(err) {
		return "", fmt.Errorf("GPG credentials file not found at %s", credPath)
	}

	log.Debug().Str("file", credPath).Msg("Decrypting GPG credentials")

	args := []string{"--decrypt", "--quiet"}
	if passphrasePath, ok := findPassphraseFile(); ok {
		args = append(args, "--pinentry-mode", "loopback", "--passphrase-file", passphrasePath)
	}
	args = append(args, credPath)

	output, err := exec.CommandContext(ctx, "gpg", args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("GPG decryption failed: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("GPG decryption failed: %w", err)
	}

	return strings.TrimSpace(string(output)), nil
}

// getCredentialPath returns the full path to the credentials file.
func getCredentialPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, credentialDir, credentialFile), nil
}

// findPassphraseFile looks for .gpg-passphrase next to the executable, then in
// the working directory. A file readable by group or others is skipped.
func findPassphraseFile() (string, bool) {
	var candidates []string
	if exe, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), ".gpg-passphrase"))
	}
	if cwd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(cwd, ".gpg-passphrase"))
	}

	for _, p := range candidates {
		fi, err := os.Stat(p)
		if err != nil {
			continue
		}
		if mode := fi.Mode().Perm(); mode&0077 != 0 {
			log.Warn().
				Str("passphrase_file", p).
				Str("permissions", fmt.Sprintf("%04o", mode)).
				Msg("Passphrase file has insecure permissions (should be 0600); skipping")
			continue
		}
		log.Debug().Str("passphrase_file", p).Msg("Using passphrase file for GPG decryption")
		return p, true
	}
	return "", false
}
