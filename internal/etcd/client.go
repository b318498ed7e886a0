// Package etcd encapsula el cliente etcd del operador con namespace por
// aplicación y entorno.
//
// Todas las claves se resuelven bajo el prefijo "/<app>/<env>/", de modo
// que varios entornos comparten el mismo clúster sin colisiones. El
// backend de coordinación (acciones, posiciones, asignaciones) vive en
// este namespace.
package etcd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/namespace"
)

const (
	defaultTimeoutSeconds = 5
	envEndpoints          = "ETCD_ENDPOINTS"
	envTimeout            = "ETCD_TIMEOUT"
	envScope              = "ENV"
)

type (
	// KV define las operaciones básicas que nos interesan de etcd
	// (facilita mocking).
	KV interface {
		// Get obtiene un valor de etcd por su clave
		Get(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error)
		// Put establece un valor en etcd para una clave
		Put(ctx context.Context, key, val string, opts ...clientv3.OpOption) (*clientv3.PutResponse, error)
		// Delete elimina una clave de etcd
		Delete(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.DeleteResponse, error)
		// Txn abre una transacción condicional sobre el namespace
		Txn(ctx context.Context) clientv3.Txn
	}

	// Client encapsula la funcionalidad del cliente etcd con namespace
	// configurado.
	Client struct {
		raw     *clientv3.Client // cliente real
		kv      KV               // namespaced KV
		watcher clientv3.Watcher // namespaced watcher
		app     string
		env     string
		timeout time.Duration
	}
)

// ---------- Constructor ----------

// Option define una función que modifica la configuración del cliente
type Option func(*config)

type config struct {
	endpoints []string
	timeout   time.Duration
	app       string
	env       string
	prefix    string
}

// defaultConfig crea una configuración por defecto basada en variables de entorno
func defaultConfig() *config {
	timeout := defaultTimeoutSeconds
	if i, err := strconv.Atoi(os.Getenv(envTimeout)); err == nil {
		timeout = i
	}

	cfg := &config{
		endpoints: []string{"http://127.0.0.1:2379"},
		timeout:   time.Duration(timeout) * time.Second,
		app:       "hedge",
		env:       firstNonEmpty(os.Getenv(envScope), "development"),
	}
	if eps := EndpointsFromEnv(); len(eps) > 0 {
		cfg.endpoints = eps
	}
	return cfg
}

// WithEndpoints establece los endpoints del servidor etcd
func WithEndpoints(eps ...string) Option { return func(c *config) { c.endpoints = eps } }

// WithTimeout establece el timeout para las operaciones del cliente
func WithTimeout(t time.Duration) Option { return func(c *config) { c.timeout = t } }

// WithApp establece el nombre de la aplicación para el namespace
func WithApp(name string) Option { return func(c *config) { c.app = name } }

// WithEnv establece el entorno para el namespace
func WithEnv(env string) Option { return func(c *config) { c.env = env } }

// WithPrefix establece un prefijo personalizado para el namespace
func WithPrefix(p string) Option { return func(c *config) { c.prefix = p } }

// EndpointsFromEnv extrae la lista de endpoints del clúster leyendo la
// variable ETCD_ENDPOINTS. Devuelve nil si no está definida o está vacía.
func EndpointsFromEnv() []string {
	eps := os.Getenv(envEndpoints)
	if eps == "" {
		return nil
	}
	parts := strings.Split(eps, ",")
	var clean []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			clean = append(clean, trimmed)
		}
	}
	return clean
}

// New crea un nuevo cliente etcd con la configuración proporcionada.
//
// Example:
//
//	cli, err := etcd.New(etcd.WithApp("hedge"), etcd.WithEnv("production"))
func New(opts ...Option) (*Client, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.endpoints,
		DialTimeout: cfg.timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating etcd client: %w", err)
	}

	// prefijo: /APP/ENV/
	if cfg.prefix == "" {
		cfg.prefix = fmt.Sprintf("/%s/%s/", cfg.app, cfg.env)
	}

	return &Client{
		raw:     cli,
		kv:      namespace.NewKV(cli, cfg.prefix),
		watcher: namespace.NewWatcher(cli, cfg.prefix),
		app:     cfg.app,
		env:     cfg.env,
		timeout: cfg.timeout,
	}, nil
}

// ---------- Operaciones de alto nivel ----------

// NamespacePrefix devuelve el prefijo absoluto configurado para el cliente,
// con formato "/<app>/<env>/".
func (c *Client) NamespacePrefix() string {
	return fmt.Sprintf("/%s/%s/", c.app, c.env)
}

// GetVar obtiene una variable usando el patrón de namespace configurado
func (c *Client) GetVar(ctx context.Context, key string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.kv.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("failed to get key %s: %w", key, err)
	}
	if len(resp.Kvs) == 0 {
		return "", fmt.Errorf("key not found: %s", key)
	}
	return string(resp.Kvs[0].Value), nil
}

// GetVarWithRevision obtiene una variable junto con el ModRevision de la
// clave, para escrituras condicionales con PutIfRevision.
func (c *Client) GetVarWithRevision(ctx context.Context, key string) (string, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.kv.Get(ctx, key)
	if err != nil {
		return "", 0, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	if len(resp.Kvs) == 0 {
		return "", 0, fmt.Errorf("key not found: %s", key)
	}
	return string(resp.Kvs[0].Value), resp.Kvs[0].ModRevision, nil
}

// GetVarWithDefault obtiene una variable o devuelve un valor por defecto si no existe
func (c *Client) GetVarWithDefault(ctx context.Context, key, defaultValue string) string {
	value, err := c.GetVar(ctx, key)
	if err != nil {
		return defaultValue
	}
	return value
}

// GetVarInt obtiene una variable como entero
func (c *Client) GetVarInt(ctx context.Context, key string) (int, error) {
	value, err := c.GetVar(ctx, key)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(value)
}

// GetVarIntWithDefault obtiene una variable como entero o devuelve un valor por defecto
func (c *Client) GetVarIntWithDefault(ctx context.Context, key string, defaultValue int) int {
	value, err := c.GetVarInt(ctx, key)
	if err != nil {
		return defaultValue
	}
	return value
}

// GetVarBoolWithDefault obtiene una variable como booleano o devuelve un valor por defecto
func (c *Client) GetVarBoolWithDefault(ctx context.Context, key string, defaultValue bool) bool {
	value, err := c.GetVar(ctx, key)
	if err != nil {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}

// GetVarDurationWithDefault obtiene una variable como duración (en
// milisegundos) o devuelve un valor por defecto.
func (c *Client) GetVarDurationWithDefault(ctx context.Context, key string, defaultValue time.Duration) time.Duration {
	value, err := c.GetVarInt(ctx, key)
	if err != nil {
		return defaultValue
	}
	return time.Duration(value) * time.Millisecond
}

// GetVarFloatWithDefault obtiene una variable como float64 o devuelve un
// valor por defecto.
func (c *Client) GetVarFloatWithDefault(ctx context.Context, key string, defaultValue float64) float64 {
	value, err := c.GetVar(ctx, key)
	if err != nil {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return f
}

// SetVar establece una variable usando el patrón de namespace configurado
func (c *Client) SetVar(ctx context.Context, key, val string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if _, err := c.kv.Put(ctx, key, val); err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

// PutIfRevision escribe una clave solo si su ModRevision no cambió desde
// la lectura. Devuelve false (sin error) cuando otro escritor ganó la
// carrera y la clave ya fue modificada.
func (c *Client) PutIfRevision(ctx context.Context, key, val string, rev int64) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.kv.Txn(ctx).
		If(clientv3.Compare(clientv3.ModRevision(key), "=", rev)).
		Then(clientv3.OpPut(key, val)).
		Commit()
	if err != nil {
		return false, fmt.Errorf("failed conditional put on key %s: %w", key, err)
	}
	return resp.Succeeded, nil
}

// DeleteVar elimina una variable usando el patrón de namespace configurado
func (c *Client) DeleteVar(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if _, err := c.kv.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

// KeyValue par clave/valor devuelto por GetPrefix.
type KeyValue struct {
	Key   string
	Value string
}

// GetPrefix lista todas las claves bajo un prefijo del namespace.
func (c *Client) GetPrefix(ctx context.Context, prefix string) ([]KeyValue, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.kv.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to list prefix %s: %w", prefix, err)
	}

	kvs := make([]KeyValue, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		kvs = append(kvs, KeyValue{Key: string(kv.Key), Value: string(kv.Value)})
	}
	return kvs, nil
}

// WatchPrefix abre un watch sobre un prefijo del namespace. El canal se
// cierra cuando el contexto se cancela.
func (c *Client) WatchPrefix(ctx context.Context, prefix string) clientv3.WatchChan {
	return c.watcher.Watch(ctx, prefix, clientv3.WithPrefix())
}

// Close cierra la conexión con etcd
func (c *Client) Close() error {
	if c.raw != nil {
		return c.raw.Close()
	}
	return nil
}

// firstNonEmpty devuelve el primer valor no vacío de la lista
func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
