package main

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const referralsForPremium = 3

// UserReferral tracks one user's referral code and progress toward
// unlocking premium features.
type UserReferral struct {
	UserID           int64
	ReferralCode     string
	ReferredByUserID int64
	ReferralCount    int
	PremiumUnlocked  bool
	CreatedAt        time.Time
}

// ReferralService gates premium-only features. Admins always pass; everyone
// else unlocks by referring enough new users through their personal code.
type ReferralService struct {
	store    Storage
	admins   map[int64]struct{}
	required int
}

func NewReferralService(store Storage, adminIDs string) *ReferralService {
	return &ReferralService{
		store:    store,
		admins:   parseAdminIDs(adminIDs),
		required: referralsForPremium,
	}
}

func parseAdminIDs(raw string) map[int64]struct{} {
	admins := make(map[int64]struct{})
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			log.Printf("referral: ignoring bad admin id %q", part)
			continue
		}
		admins[id] = struct{}{}
	}
	return admins
}

func (s *ReferralService) IsAdmin(userID int64) bool {
	_, ok := s.admins[userID]
	return ok
}

// HasPremiumAccess never fails open: a storage error reads as "no access".
func (s *ReferralService) HasPremiumAccess(ctx context.Context, userID int64) bool {
	if s.IsAdmin(userID) {
		return true
	}
	ref, ok, err := s.store.ReferralByUserID(ctx, userID)
	if err != nil {
		log.Printf("referral: premium check for %d failed: %v", userID, err)
		return false
	}
	return ok && ref.PremiumUnlocked
}

// GetOrCreate returns the user's referral record, minting a fresh code on
// first contact.
func (s *ReferralService) GetOrCreate(ctx context.Context, userID int64) (UserReferral, error) {
	ref, ok, err := s.store.ReferralByUserID(ctx, userID)
	if err != nil {
		return UserReferral{}, fmt.Errorf("load referral for %d: %w", userID, err)
	}
	if ok {
		return ref, nil
	}

	ref = UserReferral{
		UserID:       userID,
		ReferralCode: newReferralCode(),
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.SaveReferral(ctx, ref); err != nil {
		return UserReferral{}, fmt.Errorf("save referral for %d: %w", userID, err)
	}
	return ref, nil
}

// ProcessStart handles the deep-link payload of /start. A valid foreign
// code credits the referrer once; self-referrals and repeat starts are
// silently ignored.
func (s *ReferralService) ProcessStart(ctx context.Context, userID int64, payload string) error {
	code := strings.TrimPrefix(payload, "ref_")
	if code == payload {
		_, err := s.GetOrCreate(ctx, userID)
		return err
	}

	_, ok, err := s.store.ReferralByUserID(ctx, userID)
	if err != nil {
		return fmt.Errorf("load referral for %d: %w", userID, err)
	}
	if ok {
		// Already registered, the code only counts for first contact.
		return nil
	}

	referrer, found, err := s.store.ReferralByCode(ctx, code)
	if err != nil {
		return fmt.Errorf("resolve referral code %q: %w", code, err)
	}
	if !found || referrer.UserID == userID {
		_, err := s.GetOrCreate(ctx, userID)
		return err
	}

	ref := UserReferral{
		UserID:           userID,
		ReferralCode:     newReferralCode(),
		ReferredByUserID: referrer.UserID,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.store.SaveReferral(ctx, ref); err != nil {
		return fmt.Errorf("save referral for %d: %w", userID, err)
	}

	if err := s.store.IncrementReferralCount(ctx, referrer.UserID, s.required); err != nil {
		return fmt.Errorf("credit referrer %d: %w", referrer.UserID, err)
	}
	log.Printf("referral: user %d joined via code of %d", userID, referrer.UserID)
	return nil
}

// ReferralsNeeded reports how many more referrals unlock premium.
func (s *ReferralService) ReferralsNeeded(ref UserReferral) int {
	remaining := s.required - ref.ReferralCount
	if remaining < 0 {
		return 0
	}
	return remaining
}

func newReferralCode() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
