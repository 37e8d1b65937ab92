package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecideAutoReview(t *testing.T) {
	baseCfg := ReviewConfig{
		Enabled:         true,
		HighRiskRegex:   "drop|truncate|alter",
		MaxUpdateRows:   100,
		ExcludedDBTypes: []string{"redis", "mongo"},
		RequiredTag:     "can_auto_review",
	}
	okInput := func() AutoReviewInput {
		return AutoReviewInput{
			SQLContent:   "update orders set state = 1 where id = 3;",
			DBType:       "mysql",
			InstanceTags: []string{"can_auto_review"},
			UpdateAffectedRows: func(ctx context.Context) (int64, error) {
				return 10, nil
			},
		}
	}

	tests := []struct {
		name   string
		cfg    ReviewConfig
		mutate func(*AutoReviewInput)
		want   bool
	}{
		{
			name: "全部条件满足自动通过",
			cfg:  baseCfg,
			want: true,
		},
		{
			name: "总开关关闭",
			cfg:  ReviewConfig{Enabled: false},
			want: false,
		},
		{
			name: "实例类型被排除_忽略大小写",
			cfg:  baseCfg,
			mutate: func(in *AutoReviewInput) {
				in.DBType = "Redis"
			},
			want: false,
		},
		{
			name: "实例缺少必需标签",
			cfg:  baseCfg,
			mutate: func(in *AutoReviewInput) {
				in.InstanceTags = []string{"prod"}
			},
			want: false,
		},
		{
			name: "任意一条语句命中高危正则",
			cfg:  baseCfg,
			mutate: func(in *AutoReviewInput) {
				in.SQLContent = "update orders set state = 1;\nDROP TABLE orders;"
			},
			want: false,
		},
		{
			name: "影响行数超过上限",
			cfg:  baseCfg,
			mutate: func(in *AutoReviewInput) {
				in.UpdateAffectedRows = func(ctx context.Context) (int64, error) {
					return 101, nil
				}
			},
			want: false,
		},
		{
			name: "影响行数恰好等于上限仍通过",
			cfg:  baseCfg,
			mutate: func(in *AutoReviewInput) {
				in.UpdateAffectedRows = func(ctx context.Context) (int64, error) {
					return 100, nil
				}
			},
			want: true,
		},
		{
			name: "网关标记人工",
			cfg:  baseCfg,
			mutate: func(in *AutoReviewInput) {
				in.ManualFlag = true
			},
			want: false,
		},
		{
			name: "不限制标签时无标签也通过",
			cfg: ReviewConfig{
				Enabled:       true,
				MaxUpdateRows: 100,
			},
			mutate: func(in *AutoReviewInput) {
				in.InstanceTags = nil
			},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := okInput()
			if tt.mutate != nil {
				tt.mutate(&in)
			}
			got, err := DecideAutoReview(context.Background(), tt.cfg, in)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestDecideAutoReviewErrors(t *testing.T) {
	ctx := context.Background()

	// 正则无效：决策失败而不是静默人工
	_, err := DecideAutoReview(ctx, ReviewConfig{Enabled: true, HighRiskRegex: "["}, AutoReviewInput{})
	require.Error(t, err)

	// 影响行数获取失败同样上抛
	_, err = DecideAutoReview(ctx, ReviewConfig{Enabled: true}, AutoReviewInput{
		UpdateAffectedRows: func(ctx context.Context) (int64, error) {
			return 0, errors.New("网关不可达")
		},
	})
	require.Error(t, err)
}

func TestDecideAutoReviewLazyRowCount(t *testing.T) {
	called := false
	in := AutoReviewInput{
		SQLContent: "drop table orders;",
		DBType:     "mysql",
		UpdateAffectedRows: func(ctx context.Context) (int64, error) {
			called = true
			return 0, nil
		},
	}
	cfg := ReviewConfig{Enabled: true, HighRiskRegex: "drop", MaxUpdateRows: 100}

	got, err := DecideAutoReview(context.Background(), cfg, in)
	require.NoError(t, err)
	require.False(t, got)
	// 高危正则先命中，不应再触发网关往返
	require.False(t, called)
}

func TestSplitStatements(t *testing.T) {
	stmts := SplitStatements("  update a set x=1; \n\nselect 1 ;;  ")
	require.Equal(t, []string{"update a set x=1", "select 1"}, stmts)
	require.Empty(t, SplitStatements(" ; ; "))
}

func TestIsUpdateStatement(t *testing.T) {
	require.True(t, IsUpdateStatement("  UPDATE orders SET state = 1"))
	require.True(t, IsUpdateStatement("update orders set state = 1"))
	require.False(t, IsUpdateStatement("insert into orders values (1)"))
	require.False(t, IsUpdateStatement("delete from orders"))
}

func TestNotifyEnabled(t *testing.T) {
	cfg := ReviewConfig{NotifyPhases: []string{"apply", "Pass"}}
	require.True(t, cfg.NotifyEnabled("apply"))
	require.True(t, cfg.NotifyEnabled("pass"))
	require.False(t, cfg.NotifyEnabled("cancel"))
	require.False(t, ReviewConfig{}.NotifyEnabled("apply"))
}
