// Package config はgatewayの起動時設定を読み込む。
//
// 既定値、YAMLファイル、.env.local、環境変数の順に上書きして1つのConfigを組み立てる。
// 組み立てたConfigは検証後に不変として扱い、リクエスト処理中に環境変数を読むことはない。
package config
