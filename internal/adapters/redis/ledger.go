package redis

import (
	"context"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/robertarktes/fleet-rental-holds/internal/domain"
)

// Script results: -1 unknown vehicle, 0 rejected, 1 applied.
var (
	tryReserveScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
local total = tonumber(redis.call('HGET', KEYS[1], 'total'))
local reserved = tonumber(redis.call('HGET', KEYS[1], 'reserved'))
if reserved >= total then return 0 end
redis.call('HINCRBY', KEYS[1], 'reserved', 1)
return 1
`)

	releaseScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
local reserved = tonumber(redis.call('HGET', KEYS[1], 'reserved'))
if reserved <= 0 then return 0 end
redis.call('HINCRBY', KEYS[1], 'reserved', -1)
return 1
`)

	provisionScript = redis.NewScript(`
local total = tonumber(ARGV[1])
local reserved = tonumber(redis.call('HGET', KEYS[1], 'reserved') or '0')
if reserved > total then return 0 end
redis.call('HSET', KEYS[1], 'total', total, 'reserved', reserved)
return 1
`)

	restoreScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
local total = tonumber(redis.call('HGET', KEYS[1], 'total'))
local reserved = tonumber(ARGV[1])
if reserved < 0 or reserved > total then return 0 end
redis.call('HSET', KEYS[1], 'reserved', reserved)
return 1
`)
)

// Ledger keeps unit counters in one hash per vehicle. Each mutation runs as a
// Lua script, which Redis executes atomically.
type Ledger struct {
	client *redis.Client
}

func NewLedger(client *redis.Client) *Ledger {
	return &Ledger{client: client}
}

func ledgerKey(vehicleID string) string {
	return "ledger:{" + vehicleID + "}"
}

func (l *Ledger) run(ctx context.Context, script *redis.Script, vehicleID string, args ...interface{}) (int, error) {
	res, err := script.Run(ctx, l.client, []string{ledgerKey(vehicleID)}, args...).Int()
	if err != nil {
		return 0, err
	}
	if res < 0 {
		return 0, errors.Wrapf(domain.ErrLedgerUnknownVehicle, "vehicle %s", vehicleID)
	}
	return res, nil
}

func (l *Ledger) TryReserve(ctx context.Context, vehicleID string) error {
	ok, err := l.run(ctx, tryReserveScript, vehicleID)
	if err != nil {
		return err
	}
	if ok == 0 {
		return domain.ErrFullyBooked
	}
	return nil
}

func (l *Ledger) Release(ctx context.Context, vehicleID string) error {
	ok, err := l.run(ctx, releaseScript, vehicleID)
	if err != nil {
		return err
	}
	if ok == 0 {
		return errors.Wrapf(domain.ErrAlreadyAtZero, "vehicle %s", vehicleID)
	}
	return nil
}

func (l *Ledger) Provision(ctx context.Context, vehicleID string, totalUnits int) error {
	if totalUnits < 1 {
		return errors.Wrapf(domain.ErrInvalidInput, "total units %d", totalUnits)
	}
	ok, err := l.run(ctx, provisionScript, vehicleID, totalUnits)
	if err != nil {
		return err
	}
	if ok == 0 {
		return errors.Wrapf(domain.ErrInvalidInput, "total units %d below reserved units of %s", totalUnits, vehicleID)
	}
	return nil
}

func (l *Ledger) Units(ctx context.Context, vehicleID string) (domain.Units, error) {
	vals, err := l.client.HMGet(ctx, ledgerKey(vehicleID), "total", "reserved").Result()
	if err != nil {
		return domain.Units{}, err
	}
	if vals[0] == nil || vals[1] == nil {
		return domain.Units{}, errors.Wrapf(domain.ErrLedgerUnknownVehicle, "vehicle %s", vehicleID)
	}

	u := domain.Units{VehicleID: vehicleID}
	if u.TotalUnits, err = strconv.Atoi(vals[0].(string)); err != nil {
		return domain.Units{}, errors.Wrapf(err, "ledger total of %s", vehicleID)
	}
	if u.ReservedUnits, err = strconv.Atoi(vals[1].(string)); err != nil {
		return domain.Units{}, errors.Wrapf(err, "ledger reserved of %s", vehicleID)
	}
	return u, nil
}

func (l *Ledger) Restore(ctx context.Context, vehicleID string, reservedUnits int) error {
	ok, err := l.run(ctx, restoreScript, vehicleID, reservedUnits)
	if err != nil {
		return err
	}
	if ok == 0 {
		return errors.Wrapf(domain.ErrInvalidInput, "reserved units %d out of range for %s", reservedUnits, vehicleID)
	}
	return nil
}
