package identity

import (
	"fmt"

	"go.uber.org/fx"

	pkgif "github.com/retoro/go-retoro/pkg/interfaces"
	"github.com/retoro/go-retoro/pkg/lib/crypto"
)

// Config 身份模块配置
type Config struct {
	// PrivateKey 节点私钥，为 nil 时生成新密钥
	PrivateKey crypto.PrivateKey
}

// ModuleInput 模块输入依赖
type ModuleInput struct {
	fx.In

	Config *Config `optional:"true"`
}

// ModuleOutput 模块输出
type ModuleOutput struct {
	fx.Out

	Identity pkgif.Identity
}

// ProvideServices 提供身份
func ProvideServices(input ModuleInput) (ModuleOutput, error) {
	var (
		id  *Identity
		err error
	)
	if input.Config != nil && input.Config.PrivateKey != nil {
		id, err = New(input.Config.PrivateKey)
	} else {
		id, err = Generate()
	}
	if err != nil {
		return ModuleOutput{}, fmt.Errorf("创建身份失败: %w", err)
	}
	return ModuleOutput{Identity: id}, nil
}

// Module 返回 Fx 模块
func Module() fx.Option {
	return fx.Module("identity",
		fx.Provide(ProvideServices),
	)
}
