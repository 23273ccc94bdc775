package storage

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"
)

// ModuleInput 模块输入依赖
type ModuleInput struct {
	fx.In

	Config *Config     `optional:"true"`
	Clock  clock.Clock `optional:"true"`
}

// ModuleOutput 模块输出，未配置目录时全部为 nil
type ModuleOutput struct {
	fx.Out

	DB       *DB
	Nodes    *Nodes
	Channels *Channels
}

// ProvideStorage 创建数据库句柄，目录在启动时才打开
func ProvideStorage(input ModuleInput) (ModuleOutput, error) {
	if input.Config == nil || input.Config.Dir == "" {
		return ModuleOutput{}, nil
	}
	db, err := New(*input.Config, input.Clock)
	if err != nil {
		return ModuleOutput{}, err
	}
	return ModuleOutput{DB: db, Nodes: NewNodes(db), Channels: NewChannels(db)}, nil
}

func registerLifecycle(lc fx.Lifecycle, db *DB) {
	if db == nil {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return db.Start()
		},
		OnStop: func(context.Context) error {
			log.Debug("正在关闭存储")
			return db.Close()
		},
	})
}

// Module 返回 Fx 模块
func Module() fx.Option {
	return fx.Module("storage",
		fx.Provide(ProvideStorage),
		fx.Invoke(registerLifecycle),
	)
}
