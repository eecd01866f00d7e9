package service

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"Outcall/internal/engine"
	"Outcall/pkg/vapi"
)

// CredentialService 把组织凭证的三种历史存储形态归一成一种：
//  1. settings.vapi 嵌套对象（当前形态）
//  2. vapi_credentials JSON 字符串列
//  3. vapi_api_key / vapi_org_id 平铺列（最老的形态）
type CredentialService struct {
	logger *zap.Logger
	store  engine.Store
}

// NewCredentialService 构造凭证解析服务，log 传 nil 则不输出日志
func NewCredentialService(log *zap.Logger, store engine.Store) *CredentialService {
	if log == nil {
		log = zap.NewNop()
	}
	return &CredentialService{logger: log, store: store}
}

// Resolve 解析组织的 VAPI 凭证，found=false 表示没配，不算错误
func (s *CredentialService) Resolve(ctx context.Context, orgID int64) (bool, vapi.Credentials, error) {
	org, err := s.store.OrganizationByID(ctx, orgID)
	if err != nil {
		return false, vapi.Credentials{}, fmt.Errorf("failed to load organization: %w", err)
	}

	// 形态 1：settings.vapi 嵌套对象
	if org.Settings != nil {
		if raw, ok := org.Settings["vapi"]; ok {
			if creds, ok := credentialsFromAny(raw); ok {
				return true, creds, nil
			}
			s.logger.Warn("Organization settings.vapi is malformed, trying legacy shapes",
				zap.Int64("organization_id", orgID))
		}
	}

	// 形态 2：JSON 字符串列
	if org.VapiCredentials != nil && *org.VapiCredentials != "" {
		var creds vapi.Credentials
		if err := json.Unmarshal([]byte(*org.VapiCredentials), &creds); err != nil {
			s.logger.Warn("Organization vapi_credentials column is malformed, trying flat columns",
				zap.Int64("organization_id", orgID), zap.Error(err))
		} else if creds.APIKey != "" {
			return true, creds, nil
		}
	}

	// 形态 3：平铺列
	if org.VapiAPIKey != nil && *org.VapiAPIKey != "" {
		creds := vapi.Credentials{APIKey: *org.VapiAPIKey}
		if org.VapiOrgID != nil {
			creds.OrgID = *org.VapiOrgID
		}
		return true, creds, nil
	}

	return false, vapi.Credentials{}, nil
}

func credentialsFromAny(raw interface{}) (vapi.Credentials, bool) {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return vapi.Credentials{}, false
	}
	var creds vapi.Credentials
	if v, ok := m["apiKey"].(string); ok {
		creds.APIKey = v
	}
	if v, ok := m["orgId"].(string); ok {
		creds.OrgID = v
	}
	return creds, creds.APIKey != ""
}
