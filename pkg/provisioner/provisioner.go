// Package provisioner creates or recovers the wallet's 2-member multisig and its vault.
package provisioner

import (
	"context"
	"time"

	"github.com/avast/retry-go"
	"github.com/gagliardetto/solana-go"
	"github.com/go-faster/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/argus-wallet/argus/pkg/core"
	"github.com/argus-wallet/argus/pkg/ledger"
	"github.com/argus-wallet/argus/pkg/squads"
)

var provisionAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "argus_provision_attempts_total",
	Help: "Create-key attempts by result",
}, []string{"result"})

// Ledger is the part of the cluster access layer the provisioner needs.
type Ledger interface {
	GetAccount(ctx context.Context, address solana.PublicKey) (*core.Account, error)
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
	SendTransaction(ctx context.Context, tx *solana.Transaction, skipPreflight bool) (solana.Signature, error)
	ConfirmTransaction(ctx context.Context, sig solana.Signature, timeout time.Duration) (*core.SignatureStatus, error)
}

type Options struct {
	ProgramID solana.PublicKey
	Scheme    CreateKeyScheme
	// Attempts is the number of create keys walked before giving up.
	Attempts int
	// VisibilityPolls and VisibilityDelay bound the wait for a created multisig to show up on the
	// read path.
	VisibilityPolls uint
	VisibilityDelay time.Duration
	// TransientRetries is how many times a network failure is retried on the same create key.
	TransientRetries uint
	TransientDelay   time.Duration
	ConfirmTimeout   time.Duration
	Memo             string
}

func DefaultOptions() Options {
	return Options{
		ProgramID:        squads.ProgramID,
		Scheme:           SchemeHashed,
		Attempts:         10,
		VisibilityPolls:  10,
		VisibilityDelay:  time.Second,
		TransientRetries: 3,
		TransientDelay:   500 * time.Millisecond,
		ConfirmTimeout:   30 * time.Second,
	}
}

type Provisioner struct {
	ledger Ledger
	opts   Options
	logger *zap.Logger
}

func New(l Ledger, opts Options, logger *zap.Logger) *Provisioner {
	defaults := DefaultOptions()
	if opts.ProgramID.IsZero() {
		opts.ProgramID = defaults.ProgramID
	}
	if opts.Scheme == "" {
		opts.Scheme = defaults.Scheme
	}
	if opts.Attempts <= 0 {
		opts.Attempts = defaults.Attempts
	}
	if opts.VisibilityPolls == 0 {
		opts.VisibilityPolls = defaults.VisibilityPolls
	}
	if opts.TransientRetries == 0 {
		opts.TransientRetries = defaults.TransientRetries
	}
	if opts.ConfirmTimeout == 0 {
		opts.ConfirmTimeout = defaults.ConfirmTimeout
	}
	return &Provisioner{ledger: l, opts: opts, logger: logger}
}

// errSlotOccupied marks a create key whose multisig address is taken by an account that is not
// this wallet's multisig.
var errSlotOccupied = errors.New("create key slot occupied")

// Provision returns the multisig shared by owner and approvalSigner, creating it when none of the
// owner's create keys leads to one. owner pays for and signs the creation.
func (p *Provisioner) Provision(ctx context.Context, owner solana.PrivateKey, approvalSigner solana.PublicKey) (*core.ProvisionResult, error) {
	ctx, span := otel.Tracer("argus/provisioner").Start(ctx, "Provision")
	defer span.End()

	var attemptErrs error
	for attempt := 0; attempt < p.opts.Attempts; attempt++ {
		createKey, err := DeriveCreateKey(p.opts.Scheme, owner.PublicKey(), attempt)
		if err != nil {
			return nil, err
		}
		var result *core.ProvisionResult
		err = retry.Do(func() error {
			var err error
			result, err = p.tryCreateKey(ctx, owner, approvalSigner, createKey, attempt)
			return err
		},
			retry.Context(ctx),
			retry.Attempts(p.opts.TransientRetries),
			retry.Delay(p.opts.TransientDelay),
			retry.DelayType(retry.FixedDelay),
			retry.LastErrorOnly(true),
			retry.RetryIf(isTransient),
			retry.OnRetry(func(n uint, err error) {
				p.logger.Warn("transient provisioning failure, retrying same create key",
					zap.Int("attempt", attempt), zap.Uint("retry", n), zap.Error(err))
			}),
		)
		switch {
		case err == nil:
			provisionAttempts.WithLabelValues(string(result.Outcome)).Inc()
			span.SetAttributes(attribute.String("outcome", string(result.Outcome)), attribute.Int("attempt", attempt))
			p.logger.Info("multisig provisioned",
				zap.Stringer("multisig", result.Multisig),
				zap.Stringer("vault", result.Vault),
				zap.String("outcome", string(result.Outcome)),
				zap.Int("attempt", attempt))
			return result, nil
		case isTransient(err) || ctx.Err() != nil:
			provisionAttempts.WithLabelValues("network").Inc()
			return nil, errors.Wrapf(err, "provision at create key %d", attempt)
		default:
			provisionAttempts.WithLabelValues("skipped").Inc()
			p.logger.Info("skipping create key", zap.Int("attempt", attempt), zap.Error(err))
			attemptErrs = multierr.Append(attemptErrs, errors.Wrapf(err, "create key %d", attempt))
		}
	}
	return nil, errors.Wrapf(core.ErrNoFreeSlot, "no usable create key in %d attempts: %v", p.opts.Attempts, attemptErrs)
}

func isTransient(err error) bool {
	return errors.Is(err, core.ErrNetwork) || errors.Is(err, core.ErrTimeout)
}

func (p *Provisioner) tryCreateKey(ctx context.Context, owner solana.PrivateKey, approvalSigner solana.PublicKey, createKey solana.PrivateKey, attempt int) (*core.ProvisionResult, error) {
	multisig, err := squads.MultisigAddress(p.opts.ProgramID, createKey.PublicKey())
	if err != nil {
		return nil, err
	}
	vault, err := squads.VaultAddress(p.opts.ProgramID, multisig, squads.DefaultVaultIndex)
	if err != nil {
		return nil, err
	}
	result := &core.ProvisionResult{
		Multisig:  multisig,
		Vault:     vault,
		CreateKey: createKey.PublicKey(),
		Outcome:   core.ProvisionRecovered,
		Attempt:   attempt,
	}

	account, err := p.ledger.GetAccount(ctx, multisig)
	switch {
	case err == nil:
		if err := p.verify(account, owner.PublicKey(), approvalSigner); err != nil {
			return nil, err
		}
		return result, nil
	case !errors.Is(err, core.ErrEntityNotFound):
		return nil, err
	}

	sig, err := p.create(ctx, owner, approvalSigner, createKey, multisig)
	if squads.IsAlreadyInUse(err) {
		p.logger.Info("multisig address already in use, verifying ownership", zap.Stringer("multisig", multisig))
		account, err := p.waitVisible(ctx, multisig)
		if err != nil {
			return nil, err
		}
		if err := p.verify(account, owner.PublicKey(), approvalSigner); err != nil {
			return nil, err
		}
		return result, nil
	}
	if err != nil {
		return nil, err
	}

	account, err = p.waitVisible(ctx, multisig)
	if err != nil {
		return nil, err
	}
	if err := p.verify(account, owner.PublicKey(), approvalSigner); err != nil {
		return nil, err
	}
	result.Outcome = core.ProvisionCreated
	result.Signature = sig
	return result, nil
}

// verify accepts only a multisig owned by the program with both keys as members.
func (p *Provisioner) verify(account *core.Account, owner, approvalSigner solana.PublicKey) error {
	if !account.OwnedBy(p.opts.ProgramID) {
		return errors.Wrapf(errSlotOccupied, "%s is owned by %s", account.Address, account.Owner)
	}
	m, err := squads.DecodeMultisig(account.Data)
	if err != nil {
		return errors.Wrapf(errSlotOccupied, "%s is not a multisig: %v", account.Address, err)
	}
	for _, key := range []solana.PublicKey{owner, approvalSigner} {
		if _, ok := m.Member(key); !ok {
			return errors.Wrapf(errSlotOccupied, "%s is not a member of %s", key, account.Address)
		}
	}
	return nil
}

// waitVisible polls until the multisig account can be read. Exhausting the polls is reported as a
// timeout so the same create key is tried again.
func (p *Provisioner) waitVisible(ctx context.Context, multisig solana.PublicKey) (*core.Account, error) {
	var account *core.Account
	err := retry.Do(func() error {
		var err error
		account, err = p.ledger.GetAccount(ctx, multisig)
		return err
	},
		retry.Context(ctx),
		retry.Attempts(p.opts.VisibilityPolls),
		retry.Delay(p.opts.VisibilityDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if errors.Is(err, core.ErrEntityNotFound) {
		return nil, errors.Wrapf(core.ErrTimeout, "multisig %s not visible after %d polls", multisig, p.opts.VisibilityPolls)
	}
	return account, err
}

func (p *Provisioner) create(ctx context.Context, owner solana.PrivateKey, approvalSigner solana.PublicKey, createKey solana.PrivateKey, multisig solana.PublicKey) (solana.Signature, error) {
	configAddress, err := squads.ProgramConfigAddress(p.opts.ProgramID)
	if err != nil {
		return solana.Signature{}, err
	}
	configAccount, err := p.ledger.GetAccount(ctx, configAddress)
	if err != nil {
		return solana.Signature{}, errors.Wrap(err, "read program config")
	}
	cfg, err := squads.DecodeProgramConfig(configAccount.Data)
	if err != nil {
		return solana.Signature{}, err
	}
	args := squads.MultisigCreateArgs{
		Threshold: 1,
		Members: []squads.Member{
			{Key: owner.PublicKey(), Permissions: squads.PermissionAll},
			{Key: approvalSigner, Permissions: squads.PermissionInitiate | squads.PermissionVote},
		},
	}
	if p.opts.Memo != "" {
		memo := p.opts.Memo
		args.Memo = &memo
	}
	ix, err := squads.NewMultisigCreateInstruction(p.opts.ProgramID, args, squads.MultisigCreateAccounts{
		ProgramConfig: configAddress,
		Treasury:      cfg.Treasury,
		Multisig:      multisig,
		CreateKey:     createKey.PublicKey(),
		Creator:       owner.PublicKey(),
	})
	if err != nil {
		return solana.Signature{}, err
	}
	return ledger.Submit(ctx, p.ledger, "multisig_create", []solana.Instruction{ix}, owner, []solana.PrivateKey{createKey}, p.opts.ConfirmTimeout)
}
