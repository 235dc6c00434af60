package repository

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/medreza/honcho-rewards/pkg/apperr"
	"github.com/medreza/honcho-rewards/pkg/models"
)

type slotKey struct {
	userID string
	id     string
}

type memState struct {
	users       map[string]models.User
	games       map[string]models.GameDefinition
	couponTypes map[string]models.CouponType

	playSlots map[slotKey]int
	plays     []models.PlayRecord

	couponSlots map[slotKey]string
	coupons     map[string]models.IssuedCoupon
	couponCodes map[string]string

	accounts map[string]models.LoyaltyAccount
	entries  []models.LoyaltyEntry

	referralCodes  map[string]models.ReferralCode
	referralByUser map[string]string
	referralUses   map[string]models.ReferralUse
	useByOrder     map[string]string
}

func newMemState() *memState {
	return &memState{
		users:          map[string]models.User{},
		games:          map[string]models.GameDefinition{},
		couponTypes:    map[string]models.CouponType{},
		playSlots:      map[slotKey]int{},
		couponSlots:    map[slotKey]string{},
		coupons:        map[string]models.IssuedCoupon{},
		couponCodes:    map[string]string{},
		accounts:       map[string]models.LoyaltyAccount{},
		referralCodes:  map[string]models.ReferralCode{},
		referralByUser: map[string]string{},
		referralUses:   map[string]models.ReferralUse{},
		useByOrder:     map[string]string{},
	}
}

func (s *memState) clone() *memState {
	return &memState{
		users:          maps.Clone(s.users),
		games:          maps.Clone(s.games),
		couponTypes:    maps.Clone(s.couponTypes),
		playSlots:      maps.Clone(s.playSlots),
		plays:          slices.Clone(s.plays),
		couponSlots:    maps.Clone(s.couponSlots),
		coupons:        maps.Clone(s.coupons),
		couponCodes:    maps.Clone(s.couponCodes),
		accounts:       maps.Clone(s.accounts),
		entries:        slices.Clone(s.entries),
		referralCodes:  maps.Clone(s.referralCodes),
		referralByUser: maps.Clone(s.referralByUser),
		referralUses:   maps.Clone(s.referralUses),
		useByOrder:     maps.Clone(s.useByOrder),
	}
}

// MemoryStore keeps all ledger state in process. Units of work run one at a
// time against a copy of the state that replaces it only on success, which
// gives the same all-or-nothing visibility as a database transaction.
type MemoryStore struct {
	mu     sync.Mutex
	state  *memState
	faults map[string]error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState(), faults: map[string]error{}}
}

// SetFault makes every call of the named Tx method fail with err until it
// is cleared with a nil err. Used to exercise rollback paths.
func (s *MemoryStore) SetFault(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, op)
		return
	}
	s.faults[op] = err
}

func (s *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return apperr.Persistence("begin transaction", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{state: s.state.clone(), faults: s.faults}
	if err := fn(tx); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.state.users[id]
	if !ok {
		return models.User{}, apperr.NotFound("user", id)
	}
	return u, nil
}

func (s *MemoryStore) GetGame(_ context.Context, id string) (models.GameDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.state.games[id]
	if !ok {
		return models.GameDefinition{}, apperr.NotFound("game", id)
	}
	return g, nil
}

func (s *MemoryStore) GetCouponType(_ context.Context, id string) (models.CouponType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ct, ok := s.state.couponTypes[id]
	if !ok {
		return models.CouponType{}, apperr.NotFound("coupon type", id)
	}
	return ct, nil
}

func (s *MemoryStore) ListPlays(_ context.Context, userID, gameID string) ([]models.PlayRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var plays []models.PlayRecord
	for _, p := range s.state.plays {
		if p.UserID == userID && p.GameID == gameID {
			plays = append(plays, p)
		}
	}
	return plays, nil
}

func (s *MemoryStore) ListCoupons(_ context.Context, userID string) ([]models.IssuedCoupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var coupons []models.IssuedCoupon
	for _, c := range s.state.coupons {
		if c.UserID == userID {
			coupons = append(coupons, c)
		}
	}
	sort.Slice(coupons, func(i, j int) bool { return coupons[i].CreatedAt.Before(coupons[j].CreatedAt) })
	return coupons, nil
}

func (s *MemoryStore) GetLoyaltyAccount(_ context.Context, userID string) (models.LoyaltyAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.state.accounts[userID]
	if !ok {
		return models.LoyaltyAccount{}, apperr.NotFound("loyalty account", userID)
	}
	return a, nil
}

func (s *MemoryStore) ListLoyaltyEntries(_ context.Context, userID string) ([]models.LoyaltyEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var entries []models.LoyaltyEntry
	for _, e := range s.state.entries {
		if e.UserID == userID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (s *MemoryStore) GetReferralCodeByUser(_ context.Context, userID string) (models.ReferralCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	code, ok := s.state.referralByUser[userID]
	if !ok {
		return models.ReferralCode{}, apperr.NotFound("referral code for user", userID)
	}
	return s.state.referralCodes[code], nil
}

func (s *MemoryStore) ListReferralUses(_ context.Context, code string) ([]models.ReferralUse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var uses []models.ReferralUse
	for _, u := range s.state.referralUses {
		if u.ReferralCode == code {
			uses = append(uses, u)
		}
	}
	sort.Slice(uses, func(i, j int) bool { return uses[i].CreatedAt.Before(uses[j].CreatedAt) })
	return uses, nil
}

func (s *MemoryStore) UpsertUser(_ context.Context, u models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.state.users[u.ID]; ok {
		u.CreatedAt = existing.CreatedAt
	} else if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	s.state.users[u.ID] = u
	return nil
}

func (s *MemoryStore) UpsertGame(_ context.Context, g models.GameDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.couponTypes[g.RewardCouponTypeID]; !ok {
		return apperr.NotFound("coupon type", g.RewardCouponTypeID)
	}
	s.state.games[g.ID] = g
	return nil
}

func (s *MemoryStore) UpsertCouponType(_ context.Context, ct models.CouponType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.couponTypes[ct.ID] = ct
	return nil
}

// MarkCouponUsed flips is_used on behalf of the checkout collaborator.
func (s *MemoryStore) MarkCouponUsed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.state.coupons[id]
	if !ok {
		return apperr.NotFound("coupon", id)
	}
	c.IsUsed = true
	s.state.coupons[id] = c
	return nil
}

// SetReferralCodeState lets tests and the admin collaborator disable or
// expire a referral code.
func (s *MemoryStore) SetReferralCodeState(_ context.Context, code string, active bool, expiresAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rc, ok := s.state.referralCodes[code]
	if !ok {
		return apperr.NotFound("referral code", code)
	}
	rc.IsActive = active
	rc.ExpiresAt = expiresAt
	s.state.referralCodes[code] = rc
	return nil
}

type memTx struct {
	state  *memState
	faults map[string]error
}

func (t *memTx) fault(op string) error {
	if err, ok := t.faults[op]; ok {
		return apperr.Persistence(op, err)
	}
	return nil
}

func (t *memTx) GetUser(_ context.Context, id string) (models.User, error) {
	u, ok := t.state.users[id]
	if !ok {
		return models.User{}, apperr.NotFound("user", id)
	}
	return u, nil
}

func (t *memTx) GetCouponType(_ context.Context, id string) (models.CouponType, error) {
	ct, ok := t.state.couponTypes[id]
	if !ok {
		return models.CouponType{}, apperr.NotFound("coupon type", id)
	}
	return ct, nil
}

func (t *memTx) LockPlaySlot(_ context.Context, userID, gameID string) (int, error) {
	if err := t.fault("LockPlaySlot"); err != nil {
		return 0, err
	}
	return t.state.playSlots[slotKey{userID, gameID}], nil
}

func (t *memTx) FindPlayByRequest(_ context.Context, userID, gameID, requestID string) (models.PlayRecord, bool, error) {
	for _, p := range t.state.plays {
		if p.UserID == userID && p.GameID == gameID && p.RequestID == requestID {
			return p, true, nil
		}
	}
	return models.PlayRecord{}, false, nil
}

func (t *memTx) InsertPlay(_ context.Context, p models.PlayRecord) error {
	if err := t.fault("InsertPlay"); err != nil {
		return err
	}
	for _, existing := range t.state.plays {
		if existing.UserID != p.UserID || existing.GameID != p.GameID {
			continue
		}
		if existing.PlayIndex == p.PlayIndex || (p.RequestID != "" && existing.RequestID == p.RequestID) {
			return apperr.ErrConflict
		}
	}
	t.state.plays = append(t.state.plays, p)
	t.state.playSlots[slotKey{p.UserID, p.GameID}]++
	return nil
}

func (t *memTx) LockCouponSlot(_ context.Context, userID, couponTypeID string) (string, error) {
	if err := t.fault("LockCouponSlot"); err != nil {
		return "", err
	}
	return t.state.couponSlots[slotKey{userID, couponTypeID}], nil
}

func (t *memTx) GetIssuedCoupon(_ context.Context, id string) (models.IssuedCoupon, error) {
	c, ok := t.state.coupons[id]
	if !ok {
		return models.IssuedCoupon{}, apperr.NotFound("coupon", id)
	}
	return c, nil
}

func (t *memTx) InsertCoupon(_ context.Context, c models.IssuedCoupon) error {
	if err := t.fault("InsertCoupon"); err != nil {
		return err
	}
	if _, ok := t.state.couponCodes[c.UniqueCode]; ok {
		return ErrDuplicateCode
	}
	t.state.coupons[c.ID] = c
	t.state.couponCodes[c.UniqueCode] = c.ID
	return nil
}

func (t *memTx) SetCouponSlot(_ context.Context, userID, couponTypeID, couponID string) error {
	if err := t.fault("SetCouponSlot"); err != nil {
		return err
	}
	t.state.couponSlots[slotKey{userID, couponTypeID}] = couponID
	return nil
}

func (t *memTx) LockLoyaltyAccount(_ context.Context, userID, initialTier string, now time.Time) (models.LoyaltyAccount, error) {
	if err := t.fault("LockLoyaltyAccount"); err != nil {
		return models.LoyaltyAccount{}, err
	}
	a, ok := t.state.accounts[userID]
	if !ok {
		a = models.LoyaltyAccount{UserID: userID, Balance: decimal.Zero, Tier: initialTier, UpdatedAt: now}
		t.state.accounts[userID] = a
	}
	return a, nil
}

func (t *memTx) FindLoyaltyEntryByKey(_ context.Context, userID, key string) (models.LoyaltyEntry, bool, error) {
	for _, e := range t.state.entries {
		if e.UserID == userID && e.IdempotencyKey == key {
			return e, true, nil
		}
	}
	return models.LoyaltyEntry{}, false, nil
}

func (t *memTx) InsertLoyaltyEntry(_ context.Context, e models.LoyaltyEntry) error {
	if err := t.fault("InsertLoyaltyEntry"); err != nil {
		return err
	}
	if e.IdempotencyKey != "" {
		if _, ok, _ := t.FindLoyaltyEntryByKey(context.Background(), e.UserID, e.IdempotencyKey); ok {
			return apperr.ErrConflict
		}
	}
	t.state.entries = append(t.state.entries, e)
	return nil
}

func (t *memTx) UpdateLoyaltyBalance(_ context.Context, userID string, balance decimal.Decimal, tier string, now time.Time) error {
	if err := t.fault("UpdateLoyaltyBalance"); err != nil {
		return err
	}
	a, ok := t.state.accounts[userID]
	if !ok {
		return apperr.NotFound("loyalty account", userID)
	}
	a.Balance = balance
	a.Tier = tier
	a.UpdatedAt = now
	t.state.accounts[userID] = a
	return nil
}

func (t *memTx) GetReferralCodeByUser(_ context.Context, userID string) (models.ReferralCode, bool, error) {
	code, ok := t.state.referralByUser[userID]
	if !ok {
		return models.ReferralCode{}, false, nil
	}
	return t.state.referralCodes[code], true, nil
}

func (t *memTx) InsertReferralCode(_ context.Context, rc models.ReferralCode) (bool, error) {
	if err := t.fault("InsertReferralCode"); err != nil {
		return false, err
	}
	if _, ok := t.state.referralByUser[rc.UserID]; ok {
		return false, nil
	}
	if _, ok := t.state.referralCodes[rc.Code]; ok {
		return false, ErrDuplicateCode
	}
	t.state.referralCodes[rc.Code] = rc
	t.state.referralByUser[rc.UserID] = rc.Code
	return true, nil
}

func (t *memTx) GetReferralCode(_ context.Context, code string) (models.ReferralCode, error) {
	rc, ok := t.state.referralCodes[code]
	if !ok {
		return models.ReferralCode{}, apperr.NotFound("referral code", code)
	}
	return rc, nil
}

func (t *memTx) IncrementReferralUsage(_ context.Context, code string) error {
	if err := t.fault("IncrementReferralUsage"); err != nil {
		return err
	}
	rc, ok := t.state.referralCodes[code]
	if !ok {
		return apperr.NotFound("referral code", code)
	}
	rc.UsageCount++
	t.state.referralCodes[code] = rc
	return nil
}

func (t *memTx) InsertReferralUse(_ context.Context, u models.ReferralUse) (bool, error) {
	if err := t.fault("InsertReferralUse"); err != nil {
		return false, err
	}
	if _, ok := t.state.useByOrder[u.OrderID]; ok {
		return false, nil
	}
	t.state.referralUses[u.ID] = u
	t.state.useByOrder[u.OrderID] = u.ID
	return true, nil
}

func (t *memTx) GetReferralUseByOrder(_ context.Context, orderID string) (models.ReferralUse, error) {
	id, ok := t.state.useByOrder[orderID]
	if !ok {
		return models.ReferralUse{}, apperr.NotFound("referral use for order", orderID)
	}
	return t.state.referralUses[id], nil
}

func (t *memTx) MarkSponsorCredited(_ context.Context, useID string) (bool, error) {
	if err := t.fault("MarkSponsorCredited"); err != nil {
		return false, err
	}
	u, ok := t.state.referralUses[useID]
	if !ok || u.SponsorCredited {
		return false, nil
	}
	u.SponsorCredited = true
	t.state.referralUses[useID] = u
	return true, nil
}

func (t *memTx) MarkReferredCredited(_ context.Context, useID string) (bool, error) {
	u, ok := t.state.referralUses[useID]
	if !ok || u.ReferredCredited {
		return false, nil
	}
	u.ReferredCredited = true
	t.state.referralUses[useID] = u
	return true, nil
}
