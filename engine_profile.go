package authflow

import "context"

// GetProfile returns accountID's profile. Only the owner may read it.
func (e *Engine) GetProfile(ctx context.Context, callerAccountID, accountID string) (*Profile, error) {
	if e == nil || e.accounts == nil {
		return nil, ErrEngineNotReady
	}
	if callerAccountID == "" || callerAccountID != accountID {
		e.emitAudit(ctx, auditEventProfileDenied, false, callerAccountID, "", ErrPermissionDenied, func() map[string]string {
			return map[string]string{"target": accountID}
		})
		return nil, ErrPermissionDenied
	}

	acct, err := e.accounts.GetAccountByID(ctx, accountID)
	if err != nil {
		return nil, storeErr(err)
	}
	sec, err := e.accounts.GetSecurityProfile(ctx, accountID)
	if err != nil {
		return nil, storeErr(err)
	}
	return &Profile{
		AccountID:            acct.ID,
		Email:                acct.Email,
		DisplayName:          acct.DisplayName,
		KYCStatus:            acct.KYCStatus,
		TwoFactorEnabled:     sec.TwoFactorEnabled,
		BackupCodesRemaining: sec.BackupCodesRemaining,
	}, nil
}
