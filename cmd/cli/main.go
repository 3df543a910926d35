// Command cg is a CLI client for the credgate service.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	pkgcrypto "github.com/and161185/credgate/internal/crypto"
	"github.com/and161185/credgate/internal/crypto/clientcrypto"
	"github.com/and161185/credgate/internal/crypto/credcodec"
	"github.com/and161185/credgate/internal/delegation"
	"github.com/and161185/credgate/internal/model"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// ---- config/token store ----

type tokenFile struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "credgate")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "credgate")
}

func tokenPath() string { return filepath.Join(cfgDir(), "token.json") }

func saveToken(pair model.TokenPair) error {
	_ = os.MkdirAll(cfgDir(), 0o700)
	f, err := os.OpenFile(tokenPath(), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	exp := pair.ExpiresAt
	if exp.IsZero() {
		exp = tokenExpiry(pair.AccessToken, pair.ExpiresIn)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(tokenFile{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken, ExpiresAt: exp})
}

func readTokenFile() (tokenFile, error) {
	var tf tokenFile
	b, err := os.ReadFile(tokenPath())
	if err != nil {
		return tf, err
	}
	err = json.Unmarshal(b, &tf)
	return tf, err
}

func loadToken() (string, error) {
	tf, err := readTokenFile()
	if err != nil {
		return "", err
	}
	if tf.AccessToken == "" || time.Now().After(tf.ExpiresAt) {
		return "", errors.New("no valid token (login or refresh required)")
	}
	return tf.AccessToken, nil
}

func loadRefreshToken() (string, error) {
	tf, err := readTokenFile()
	if err != nil {
		return "", err
	}
	if tf.RefreshToken == "" {
		return "", errors.New("no refresh token (login required)")
	}
	return tf.RefreshToken, nil
}

// tokenExpiry reads exp from an access token without verifying it.
func tokenExpiry(tok string, expiresIn int64) time.Time {
	var claims jwt.RegisteredClaims
	_, _, err := jwt.NewParser().ParseUnverified(tok, &claims)
	if err == nil && claims.ExpiresAt != nil {
		return claims.ExpiresAt.Time
	}
	return time.Now().Add(time.Duration(expiresIn) * time.Second)
}

// ---- transport ----

func loadTLS(caPath string, insecure bool) (*tls.Config, error) {
	if insecure {
		return &tls.Config{InsecureSkipVerify: true}, nil //nolint:gosec // dev only
	}
	if caPath == "" {
		return &tls.Config{MinVersion: tls.VersionTLS12}, nil
	}
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, err
	}
	cp := x509.NewCertPool()
	if !cp.AppendCertsFromPEM(pem) {
		return nil, errors.New("bad CA pem")
	}
	return &tls.Config{RootCAs: cp, MinVersion: tls.VersionTLS12}, nil
}

func dial(addr, caPath string, insecure bool) (*apiClient, error) {
	tc, err := loadTLS(caPath, insecure)
	if err != nil {
		return nil, err
	}
	return newAPIClient(addr, tc)
}

// ---- io helpers ----

func readAll(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func pretty(b []byte) string {
	var out any
	if json.Unmarshal(b, &out) == nil {
		j, _ := json.MarshalIndent(out, "", "  ")
		return string(j)
	}
	return string(b)
}

func withTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

func choose(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func usage() {
	fmt.Fprintf(os.Stderr, `cg CLI
Usage:
  cg -addr URL [-cacert file | -insecure] <cmd> [args]

Commands:
  version
  public-key      [-out file]
  login           -u <username> -p <password|-> [-type database] [-packed] [-digest] [-mfa code]
  refresh                                             (rotates saved tokens)
  me
  token                                               (decodes saved access token)
  remote-lookup   -secret <s> [-by username|email|id] -v <value>
  remote-validate -secret <s> -u <username> -p <password|->
  hash            -p <password|-> [-version 1|2] [-cost n]
  keygen          [-bits 2048] [-out file]
`)
	os.Exit(2)
}

func main() {
	// global flags
	addr := flag.String("addr", "http://localhost:8080", "server url")
	caPath := flag.String("cacert", "", "CA cert (PEM)")
	insecure := flag.Bool("insecure", false, "skip cert verify (dev)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	cmd, args := flag.Arg(0), flag.Args()[1:]

	ctx, cancel := withTimeout()
	defer cancel()

	switch cmd {

	case "version":
		fmt.Printf("cg %s (%s)\n", version, buildDate)

	case "public-key":
		fs := flag.NewFlagSet("public-key", flag.ExitOnError)
		out := fs.String("out", "", "write PEM to file")
		_ = fs.Parse(args)

		cli, err := dial(*addr, *caPath, *insecure)
		if err != nil {
			fail(err)
		}
		pem, err := cli.publicKey(ctx)
		if err != nil {
			fail(err)
		}
		if *out == "" {
			fmt.Print(pem)
			return
		}
		if err := os.WriteFile(*out, []byte(pem), 0o644); err != nil {
			fail(err)
		}

	case "login":
		fs := flag.NewFlagSet("login", flag.ExitOnError)
		u := fs.String("u", "", "username")
		p := fs.String("p", "", "password, - reads stdin")
		authType := fs.String("type", "", "strategy (database, federation, ldap, ad, api)")
		packed := fs.Bool("packed", false, "send a single packed ciphertext")
		digest := fs.Bool("digest", false, "send the SHA-256 pre-digest instead of the password")
		code := fs.String("mfa", "", "one-time code")
		_ = fs.Parse(args)
		pw, err := secretArg(*p)
		if err != nil {
			fail(err)
		}
		if *u == "" || pw == "" {
			fmt.Fprintln(os.Stderr, "need -u and -p")
			os.Exit(1)
		}

		cli, err := dial(*addr, *caPath, *insecure)
		if err != nil {
			fail(err)
		}
		pem, err := cli.publicKey(ctx)
		if err != nil {
			fail(err)
		}
		req, err := buildLogin(pem, *u, pw, *packed, *digest)
		if err != nil {
			fail(err)
		}
		req.MFACode = *code

		resp, err := cli.login(ctx, *authType, req)
		if err != nil {
			fail(err)
		}
		if err := saveToken(resp.Token); err != nil {
			fail(err)
		}
		fmt.Printf("ok: %s via %s\n", resp.User.Username, resp.Metadata.AuthProvider)

	case "refresh":
		rt, err := loadRefreshToken()
		if err != nil {
			fail(err)
		}
		cli, err := dial(*addr, *caPath, *insecure)
		if err != nil {
			fail(err)
		}
		pair, err := cli.refresh(ctx, rt)
		if err != nil {
			fail(err)
		}
		if err := saveToken(pair); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	case "me":
		tok, err := loadToken()
		if err != nil {
			fail(err)
		}
		cli, err := dial(*addr, *caPath, *insecure)
		if err != nil {
			fail(err)
		}
		raw, err := cli.me(ctx, tok)
		if err != nil {
			fail(err)
		}
		fmt.Println(pretty(raw))

	case "token":
		tf, err := readTokenFile()
		if err != nil {
			fail(err)
		}
		claims := jwt.MapClaims{}
		if _, _, err := jwt.NewParser().ParseUnverified(tf.AccessToken, claims); err != nil {
			fail(err)
		}
		printJSON(map[string]any{"claims": claims, "expires_at": tf.ExpiresAt.UTC().Format(time.RFC3339)})

	case "remote-lookup":
		fs := flag.NewFlagSet("remote-lookup", flag.ExitOnError)
		secret := fs.String("secret", os.Getenv("CREDGATE_DELEGATION_SECRET"), "shared delegation secret")
		by := fs.String("by", string(delegation.ByUsername), "username|email|id")
		v := fs.String("v", "", "value")
		_ = fs.Parse(args)
		if *v == "" {
			fmt.Fprintln(os.Stderr, "need -v")
			os.Exit(1)
		}

		peer, err := peerClient(*addr, *secret)
		if err != nil {
			fail(err)
		}
		id, err := peer.LookupUser(ctx, delegation.LookupField(*by), *v)
		if err != nil {
			fail(err)
		}
		printJSON(id)

	case "remote-validate":
		fs := flag.NewFlagSet("remote-validate", flag.ExitOnError)
		secret := fs.String("secret", os.Getenv("CREDGATE_DELEGATION_SECRET"), "shared delegation secret")
		u := fs.String("u", "", "username")
		p := fs.String("p", "", "password, - reads stdin")
		_ = fs.Parse(args)
		pw, err := secretArg(*p)
		if err != nil {
			fail(err)
		}
		if *u == "" || pw == "" {
			fmt.Fprintln(os.Stderr, "need -u and -p")
			os.Exit(1)
		}

		peer, err := peerClient(*addr, *secret)
		if err != nil {
			fail(err)
		}
		ok, err := peer.ValidatePassword(ctx, *u, pw)
		if err != nil {
			fail(err)
		}
		printJSON(map[string]any{"username": *u, "valid": ok})

	case "hash":
		fs := flag.NewFlagSet("hash", flag.ExitOnError)
		p := fs.String("p", "", "password, - reads stdin")
		ver := fs.Int("version", int(model.PasswordV1), "password scheme (1 or 2)")
		cost := fs.Int("cost", pkgcrypto.DefaultCost, "bcrypt cost")
		_ = fs.Parse(args)
		pw, err := secretArg(*p)
		if err != nil {
			fail(err)
		}
		if pw == "" {
			fmt.Fprintln(os.Stderr, "need -p")
			os.Exit(1)
		}
		rec, err := hashPassword(pw, model.PasswordVersion(*ver), *cost)
		if err != nil {
			fail(err)
		}
		printJSON(map[string]any{"hash": rec.Hash, "version": int(rec.Version)})

	case "keygen":
		fs := flag.NewFlagSet("keygen", flag.ExitOnError)
		bits := fs.Int("bits", credcodec.DefaultBits, "RSA key size")
		out := fs.String("out", "", "write PEM to file")
		_ = fs.Parse(args)

		kp, err := credcodec.GenerateKeyPair(*bits)
		if err != nil {
			fail(err)
		}
		pem, err := kp.PrivateKeyPEM()
		if err != nil {
			fail(err)
		}
		if *out == "" {
			fmt.Print(string(pem))
			return
		}
		if err := os.WriteFile(*out, pem, 0o600); err != nil {
			fail(err)
		}

	default:
		usage()
	}
}

// buildLogin encrypts credentials with the server's public key.
func buildLogin(pubPEM, username, password string, packed, digest bool) (loginRequest, error) {
	pub, err := clientcrypto.ParsePublicKey(pubPEM)
	if err != nil {
		return loginRequest{}, err
	}
	if digest {
		password = clientcrypto.Digest(password)
	}
	if packed {
		blob, err := clientcrypto.PackCredentials(pub, username, password)
		if err != nil {
			return loginRequest{}, err
		}
		return loginRequest{Credentials: blob}, nil
	}
	encPw, err := clientcrypto.EncryptField(pub, password)
	if err != nil {
		return loginRequest{}, err
	}
	return loginRequest{Username: username, Password: encPw}, nil
}

func hashPassword(password string, v model.PasswordVersion, cost int) (model.PasswordRecord, error) {
	if v == model.PasswordV2 && !pkgcrypto.IsDigest(password) {
		password = pkgcrypto.PreDigest(password)
	}
	return pkgcrypto.HashWithCost(v, password, cost)
}

func peerClient(addr, secret string) (*delegation.Client, error) {
	if secret == "" {
		return nil, errors.New("need -secret or CREDGATE_DELEGATION_SECRET")
	}
	s, err := delegation.NewSigner([]byte(secret), 0)
	if err != nil {
		return nil, err
	}
	return delegation.NewClient(addr, s, 0, zap.NewNop())
}

// secretArg resolves "-" to the first line of stdin.
func secretArg(v string) (string, error) {
	if v != "-" {
		return v, nil
	}
	b, err := readAll("-")
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(b), "\r\n"), nil
}

// ---- helpers ----

func fail(err error) {
	var ae *apiError
	if errors.As(err, &ae) {
		fmt.Fprintf(os.Stderr, "api error: status=%d code=%s msg=%s\n", ae.Status, ae.Code, ae.Message)
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
